package timeline

import (
	"slices"

	"github.com/matheus3301/tlk/internal/chat"
)

// The functions in this file are pure: they never modify the slice they are
// given, so either completion path (push delivery or send acknowledgement) can
// call them against a snapshot.

func indexOf(entries []chat.Message, id chat.MessageID) int {
	return slices.IndexFunc(entries, func(m chat.Message) bool { return m.ID == id })
}

// Merge appends incoming unless an entry with the same identity exists.
// It reports whether the entry was appended.
func Merge(entries []chat.Message, incoming chat.Message) ([]chat.Message, bool) {
	if indexOf(entries, incoming.ID) >= 0 {
		return entries, false
	}
	out := make([]chat.Message, len(entries), len(entries)+1)
	copy(out, entries)
	return append(out, incoming), true
}

// Confirm settles a pending entry with its authoritative copy. When the
// authoritative id is already present the pending entry is dropped, otherwise
// it is replaced in place so the entry keeps its position.
func Confirm(entries []chat.Message, tempID chat.MessageID, real chat.Message) ([]chat.Message, error) {
	i := indexOf(entries, tempID)
	if i < 0 {
		return entries, ErrUnknownPending
	}
	out := slices.Clone(entries)
	if indexOf(entries, real.ID) >= 0 {
		return slices.Delete(out, i, i+1), nil
	}
	out[i] = real
	return out, nil
}

// Remove drops the entry with the given id.
func Remove(entries []chat.Message, id chat.MessageID) ([]chat.Message, bool) {
	i := indexOf(entries, id)
	if i < 0 {
		return entries, false
	}
	return slices.Delete(slices.Clone(entries), i, i+1), true
}
