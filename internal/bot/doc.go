// Package bot handles chat events independently of the transport.
//
// Frontends (Telegram, Matrix) translate their updates into a Message and call
// one of the Handler entry points:
//
//   - Start: fresh thread, dialog state chatting, greeting with topic list
//   - Reset: fresh thread, confirmation
//   - Help: static help text with contacts
//   - Message: free text, answered through the conversation service
//
// Replies go back through the Replier the frontend passes in. Free-text
// answers are split into chunks and each chunk is sent even when an earlier
// one failed.
package bot
