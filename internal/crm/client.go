// ABOUTME: Bitrix24 webhook client for lead creation
// ABOUTME: Posts crm.lead.add with a bounded timeout and decodes result or error_description

package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single lead creation call.
const DefaultTimeout = 10 * time.Second

// maxResponseSize caps how much of a webhook response is read.
const maxResponseSize = 1 << 20

// ErrRejected matches any *RejectedError.
var ErrRejected = errors.New("lead rejected by crm")

// RejectedError is an application-level refusal: the portal answered but
// returned no lead id.
type RejectedError struct {
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("crm rejected lead: %s (%s)", e.Description, e.Code)
	}
	return "crm rejected lead: " + e.Description
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// LeadID is the identifier the portal assigned to a new lead. Numeric ids
// encode as JSON numbers.
type LeadID string

// MarshalJSON emits numeric ids unquoted.
func (id LeadID) MarshalJSON() ([]byte, error) {
	// Only canonical integers are valid JSON numbers; "007" or "+5" stay strings.
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Lead is a lead creation request.
type Lead struct {
	Title    string
	Name     string
	Phone    string
	Email    string // optional
	Comments string
	StatusID string
	SourceID string
}

type multiField struct {
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE"`
}

type leadFields struct {
	Title    string       `json:"TITLE"`
	Name     string       `json:"NAME"`
	Phone    []multiField `json:"PHONE"`
	StatusID string       `json:"STATUS_ID"`
	SourceID string       `json:"SOURCE_ID"`
	Comments string       `json:"COMMENTS"`
	Email    []multiField `json:"EMAIL,omitempty"`
}

type addRequest struct {
	Fields leadFields `json:"fields"`
}

type addResponse struct {
	Result           json.RawMessage `json:"result"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// Client calls the Bitrix24 REST webhook.
type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the given webhook base URL. A zero timeout
// uses DefaultTimeout.
func NewClient(webhookURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if !strings.HasSuffix(webhookURL, "/") {
		webhookURL += "/"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: webhookURL,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger.With("component", "crm"),
	}
}

// AddLead creates a lead and returns its id. Transport failures and timeouts
// are returned unchanged; refusals are *RejectedError.
func (c *Client) AddLead(ctx context.Context, lead Lead) (LeadID, error) {
	fields := leadFields{
		Title:    lead.Title,
		Name:     lead.Name,
		Phone:    []multiField{{Value: lead.Phone, ValueType: "WORK"}},
		StatusID: lead.StatusID,
		SourceID: lead.SourceID,
		Comments: lead.Comments,
	}
	if lead.Email != "" {
		fields.Email = []multiField{{Value: lead.Email, ValueType: "WORK"}}
	}

	body, err := json.Marshal(addRequest{Fields: fields})
	if err != nil {
		return "", fmt.Errorf("marshaling lead: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"crm.lead.add.json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var out addResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}

	id := leadIDFrom(out.Result)
	if id == "" {
		desc := out.ErrorDescription
		if desc == "" {
			desc = "unknown error"
		}
		c.logger.Warn("lead rejected", "status", resp.StatusCode, "error", out.Error, "description", desc)
		return "", &RejectedError{Code: out.Error, Description: desc}
	}

	c.logger.Info("lead created", "lead_id", string(id))
	return id, nil
}

// leadIDFrom extracts a truthy lead id from the raw result field.
func leadIDFrom(raw json.RawMessage) LeadID {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", "false", "true", "0", `""`:
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return ""
		}
		return LeadID(str)
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return ""
	}
	return LeadID(s)
}
