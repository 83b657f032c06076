package chatadapter

import "fmt"

// markSeen reports whether updateID has not been observed before, recording
// it either way. This replaces the teacher corpus's global mutable
// processed_messages set with a bounded, evicting cache owned by the Chat
// Adapter, per the Design Notes.
func (a *Adapter) markSeen(updateID int64) bool {
	key := fmt.Sprintf("update:%d", updateID)
	if _, ok := a.seen.Get(key); ok {
		return false
	}
	a.seen.Add(key, struct{}{})
	return true
}
