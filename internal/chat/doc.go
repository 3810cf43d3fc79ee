// Package chat owns the conversation data model: sessions, their ordered
// item history, and the Store contract that persistence backends implement.
// It carries no orchestration policy; callers decide when items are written
// and how history is replayed into the reasoning engine.
package chat
