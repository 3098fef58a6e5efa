// Package session maps chat users to assistant threads.
//
// A Registry is created at process start and shared by the chat handler and
// the conversation service. It holds, per user key:
//
//   - the thread handle issued by the assistant service
//   - the dialog state (idle until /start, then chatting)
//   - an in-flight flag that admits at most one run per user at a time
//
// Nothing is persisted; a restart starts every user on a fresh thread.
package session
