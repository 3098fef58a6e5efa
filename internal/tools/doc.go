// Package tools executes the function calls an assistant run pauses on.
//
// # Overview
//
// A Dispatcher maps tool names to Handlers. Dispatch is total: whatever the
// tool name or argument payload, it returns a Result the run can be resumed
// with. Malformed arguments, CRM refusals, transport failures, unknown names
// and even handler panics all become failure-shaped results.
//
// # Tools
//
//   - create_crm_lead (alias create_bitrix24_lead): create a sales lead from
//     name, phone, optional email and comments. The calling user's identity is
//     appended to the comments for traceability.
//
// # Results
//
// Results are serialized as the tool output string:
//
//	{"success": true, "lead_id": 42, "message": "Lead created in CRM. ID: 42"}
//	{"success": false, "error": "timeout", "message": "connection error"}
//
// # Ledger
//
// When a Recorder is configured every dispatched call is appended to it.
// Recording failures are logged and never change the result.
package tools
