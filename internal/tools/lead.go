// ABOUTME: create_crm_lead tool handler
// ABOUTME: Validates lead arguments, annotates comments with the caller and calls the CRM

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/nscnavi/leadbridge/internal/crm"
)

// Tool names the assistant may use for lead creation.
const (
	ToolCreateLead         = "create_crm_lead"
	ToolCreateBitrix24Lead = "create_bitrix24_lead"
)

// LeadCreator is the CRM operation the lead tool needs.
type LeadCreator interface {
	AddLead(ctx context.Context, lead crm.Lead) (crm.LeadID, error)
}

// LeadToolConfig controls how leads are built.
type LeadToolConfig struct {
	TitlePrefix     string // prepended to the lead name, e.g. "GPT: "
	StatusID        string
	SourceID        string
	DefaultComments string // used when the assistant supplies none
}

// DefaultLeadToolConfig matches the CRM pipeline the bot was built for.
func DefaultLeadToolConfig() LeadToolConfig {
	return LeadToolConfig{
		TitlePrefix:     "GPT: ",
		StatusID:        "NEW",
		SourceID:        "OTHER",
		DefaultComments: "Lead created by the chat bot",
	}
}

type createLeadInput struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Comments string `json:"comments"`
}

// LeadTool returns the create_crm_lead handler.
func LeadTool(creator LeadCreator, cfg LeadToolConfig) Handler {
	return func(ctx context.Context, caller Caller, args json.RawMessage) Result {
		var in createLeadInput
		if err := json.Unmarshal(args, &in); err != nil {
			return Failure(MsgInvalidArguments, fmt.Sprintf("invalid input: %v", err))
		}

		in.Name = strings.TrimSpace(in.Name)
		in.Phone = strings.TrimSpace(in.Phone)
		var missing []string
		if in.Name == "" {
			missing = append(missing, "name")
		}
		if in.Phone == "" {
			missing = append(missing, "phone")
		}
		if len(missing) > 0 {
			return Failure(MsgInvalidArguments, "missing required field: "+strings.Join(missing, ", "))
		}

		comments := strings.TrimSpace(in.Comments)
		if comments == "" {
			comments = cfg.DefaultComments
		}
		comments += "\n" + caller.IdentityLine()

		id, err := creator.AddLead(ctx, crm.Lead{
			Title:    cfg.TitlePrefix + in.Name,
			Name:     in.Name,
			Phone:    in.Phone,
			Email:    strings.TrimSpace(in.Email),
			Comments: comments,
			StatusID: cfg.StatusID,
			SourceID: cfg.SourceID,
		})
		if err != nil {
			var rej *crm.RejectedError
			if errors.As(err, &rej) {
				return Failure(MsgLeadRejected, rej.Description)
			}
			return Failure(MsgConnectionError, errorText(err))
		}

		return Result{
			Success: true,
			LeadID:  id,
			Message: fmt.Sprintf("Lead created in CRM. ID: %s", id),
		}
	}
}

// errorText reduces timeouts to "timeout" and keeps other errors verbatim.
func errorText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return err.Error()
}

// RegisterLeadTool registers the lead tool under both of its names.
func RegisterLeadTool(d *Dispatcher, creator LeadCreator, cfg LeadToolConfig) error {
	return d.Register(LeadTool(creator, cfg), ToolCreateLead, ToolCreateBitrix24Lead)
}
