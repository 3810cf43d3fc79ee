// Package api exposes the daemon's HTTP surface: the conversational chat
// endpoint with optional SSE streaming, the wallet event intake, and
// read-only session management routes backed by the chat store.
package api
