// ABOUTME: Tests for the OpenAI Service implementation against a fake HTTP API
// ABOUTME: Covers request routing, run conversion, reply extraction and error kinds

package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := NewOpenAI(OpenAIConfig{
		APIKey:      "sk-test",
		AssistantID: "asst_test",
		BaseURL:     srv.URL + "/",
	}, nil)
	require.NoError(t, err)
	return o
}

func TestNewOpenAI_RequiresCredentials(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{AssistantID: "asst"}, nil)
	assert.Error(t, err)

	_, err = NewOpenAI(OpenAIConfig{APIKey: "sk"}, nil)
	assert.Error(t, err)
}

func TestOpenAI_CreateThread(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/threads", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"thread_abc","object":"thread","created_at":1}`)
	})

	id, err := o.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", id)
}

func TestOpenAI_CreateRun_SendsAssistantID(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread_abc/runs", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "asst_test", body["assistant_id"])

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"run_1","object":"thread.run","thread_id":"thread_abc","status":"queued"}`)
	})

	run, err := o.CreateRun(context.Background(), "thread_abc")
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)
	assert.Equal(t, StatusQueued, run.Status)
	assert.Empty(t, run.ToolCalls)
}

func TestOpenAI_GetRun_RequiresAction(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/threads/thread_abc/runs/run_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "run_1",
			"object": "thread.run",
			"thread_id": "thread_abc",
			"status": "requires_action",
			"required_action": {
				"type": "submit_tool_outputs",
				"submit_tool_outputs": {
					"tool_calls": [
						{"id": "call_1", "type": "function", "function": {"name": "create_crm_lead", "arguments": "{\"name\":\"Ivan\"}"}},
						{"id": "call_2", "type": "function", "function": {"name": "other", "arguments": "{}"}}
					]
				}
			}
		}`)
	})

	run, err := o.GetRun(context.Background(), "thread_abc", "run_1")
	require.NoError(t, err)
	assert.Equal(t, StatusRequiresAction, run.Status)
	require.Len(t, run.ToolCalls, 2)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "create_crm_lead", Arguments: `{"name":"Ivan"}`}, run.ToolCalls[0])
	assert.Equal(t, "call_2", run.ToolCalls[1].ID)
}

func TestOpenAI_SubmitToolOutputs_SingleBatch(t *testing.T) {
	calls := 0
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/threads/thread_abc/runs/run_1/submit_tool_outputs", r.URL.Path)
		var body struct {
			ToolOutputs []struct {
				ToolCallID string `json:"tool_call_id"`
				Output     string `json:"output"`
			} `json:"tool_outputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.ToolOutputs, 2)
		assert.Equal(t, "call_1", body.ToolOutputs[0].ToolCallID)
		assert.Equal(t, "call_2", body.ToolOutputs[1].ToolCallID)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"run_1","object":"thread.run","thread_id":"thread_abc","status":"in_progress"}`)
	})

	run, err := o.SubmitToolOutputs(context.Background(), "thread_abc", "run_1", []ToolOutput{
		{ToolCallID: "call_1", Output: `{"success":true}`},
		{ToolCallID: "call_2", Output: `{"success":false}`},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, run.Status)
	assert.Equal(t, 1, calls)
}

func TestOpenAI_LatestReply(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread_abc/messages", r.URL.Path)
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"object": "list",
			"data": [{
				"id": "msg_1",
				"object": "thread.message",
				"thread_id": "thread_abc",
				"role": "assistant",
				"content": [{"type": "text", "text": {"value": "Our pricing starts at ...", "annotations": []}}]
			}],
			"has_more": false
		}`)
	})

	text, err := o.LatestReply(context.Background(), "thread_abc")
	require.NoError(t, err)
	assert.Equal(t, "Our pricing starts at ...", text)
}

func TestOpenAI_LatestReply_UserMessageIsEmptyReply(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"id":"msg_1","role":"user","content":[{"type":"text","text":{"value":"hi","annotations":[]}}]}],"has_more":false}`)
	})

	_, err := o.LatestReply(context.Background(), "thread_abc")
	require.Error(t, err)
	assert.Equal(t, KindEmptyReply, KindOf(err))
	assert.ErrorIs(t, err, ErrNoReply)
}

func TestOpenAI_APIErrorKind(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"no such thread","type":"invalid_request_error"}}`)
	})

	_, err := o.GetRun(context.Background(), "missing", "run_1")
	require.Error(t, err)
	assert.Equal(t, KindAPI, KindOf(err))
}

func TestOpenAI_TransportErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	o, err := NewOpenAI(OpenAIConfig{APIKey: "sk", AssistantID: "asst", BaseURL: url + "/"}, nil)
	require.NoError(t, err)

	_, err = o.CreateThread(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestRunStatus_Pending(t *testing.T) {
	for _, s := range []RunStatus{StatusQueued, StatusInProgress, StatusRequiresAction} {
		assert.True(t, s.Pending(), s)
	}
	for _, s := range []RunStatus{StatusCompleted, StatusFailed, StatusExpired, StatusCancelled, StatusIncomplete} {
		assert.False(t, s.Pending(), s)
	}
}
