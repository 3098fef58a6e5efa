// Package server hosts the HTTP endpoints of leadbridge on a chi router:
//
//   - GET /health answers "." for load balancers
//   - GET /status reports enabled frontends, registered tools, session counts and ledger totals
//   - GET /events streams run progress as server-sent events; it is mounted
//     only when an events token is configured and requires it as a bearer token
//
// Frontends that receive updates over HTTP (Telegram in webhook mode) mount
// their handlers through Config.Webhooks.
package server
