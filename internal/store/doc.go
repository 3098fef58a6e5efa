// Package store keeps the tool-call ledger in SQLite.
//
// # Overview
//
// Conversation threads live in the assistant service and are not persisted
// here. What the bridge does record is every tool call it executed on behalf
// of a user, so created leads and CRM failures can be traced after the fact.
//
//	s, err := store.NewSQLiteStore("/var/lib/leadbridge/ledger.db")
//	err = s.RecordToolCall(ctx, &store.ToolCallRecord{...})
//	recs, err := s.ListToolCalls(ctx, store.ToolCallFilter{Limit: 20})
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (pure Go) with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// The schema is created on open. Timestamps are stored as fixed-width UTC
// strings so they sort lexically.
package store
