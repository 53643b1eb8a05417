package repository

import (
	"sync"
	"time"

	"github.com/xuecangming/transfer-queue/internal/common/types"
)

type backlogEntry struct {
	id        string
	priority  types.Priority
	sequence  uint64
	notBefore time.Time
}

func (e backlogEntry) runsBefore(other backlogEntry) bool {
	if e.priority != other.priority {
		return e.priority > other.priority
	}
	return e.sequence < other.sequence
}

// Backlog is the ordered list of operation IDs awaiting a worker slot.
//
// New entries are placed by priority (then creation order); callers may
// reorder entries manually afterwards. Every change rebuilds the slice under
// the lock so a concurrent Pop never observes a half-moved entry.
type Backlog struct {
	entries []backlogEntry
	mu      sync.Mutex
}

// NewBacklog creates an empty backlog
func NewBacklog() *Backlog {
	return &Backlog{}
}

// Push inserts the operation at its priority position. An ID already in the
// backlog is moved rather than duplicated.
func (b *Backlog) Push(op *types.Operation) {
	b.PushAfter(op, time.Time{})
}

// PushAfter is like Push but the entry is not eligible for Pop before notBefore
func (b *Backlog) PushAfter(op *types.Operation, notBefore time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.without(op.ID)
	entry := backlogEntry{id: op.ID, priority: op.Priority, sequence: op.Sequence, notBefore: notBefore}
	b.entries = insertAt(entries, insertionIndex(entries, entry), entry)
}

// Pop removes and returns the first entry that is eligible at now
func (b *Backlog) Pop(now time.Time) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.entries {
		if e.notBefore.After(now) {
			continue
		}
		b.entries = append(b.entries[:i:i], b.entries[i+1:]...)
		return e.id, true
	}
	return "", false
}

// Remove drops id from the backlog and reports whether it was present
func (b *Backlog) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	before := len(b.entries)
	b.entries = b.without(id)
	return len(b.entries) != before
}

// Contains reports whether id is waiting in the backlog
func (b *Backlog) Contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexOf(id) >= 0
}

// Len returns the number of waiting entries
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// IDs returns the backlog order
func (b *Backlog) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, len(b.entries))
	for i, e := range b.entries {
		ids[i] = e.id
	}
	return ids
}

// Clear empties the backlog and returns the IDs it held, in order
func (b *Backlog) Clear() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, len(b.entries))
	for i, e := range b.entries {
		ids[i] = e.id
	}
	b.entries = nil
	return ids
}

// SetPriority re-places id according to its new priority
func (b *Backlog) SetPriority(id string, priority types.Priority) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexOf(id)
	if idx < 0 {
		return false
	}
	entry := b.entries[idx]
	entry.priority = priority
	entries := b.without(id)
	b.entries = insertAt(entries, insertionIndex(entries, entry), entry)
	return true
}

// MoveUp swaps id with the entry ahead of it
func (b *Backlog) MoveUp(id string) bool {
	return b.move(id, func(idx, n int) int { return idx - 1 })
}

// MoveDown swaps id with the entry behind it
func (b *Backlog) MoveDown(id string) bool {
	return b.move(id, func(idx, n int) int { return idx + 1 })
}

// MoveToTop places id at the head of the backlog
func (b *Backlog) MoveToTop(id string) bool {
	return b.move(id, func(idx, n int) int { return 0 })
}

// MoveToBottom places id at the tail of the backlog
func (b *Backlog) MoveToBottom(id string) bool {
	return b.move(id, func(idx, n int) int { return n })
}

// move removes id, computes its new index within the remaining n entries and
// reinserts it. It reports whether id was found.
func (b *Backlog) move(id string, target func(idx, n int) int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexOf(id)
	if idx < 0 {
		return false
	}
	entry := b.entries[idx]
	entries := b.without(id)

	to := target(idx, len(entries))
	if to < 0 {
		to = 0
	}
	if to > len(entries) {
		to = len(entries)
	}
	b.entries = insertAt(entries, to, entry)
	return true
}

// without returns a fresh slice of entries excluding id; callers hold b.mu
func (b *Backlog) without(id string) []backlogEntry {
	entries := make([]backlogEntry, 0, len(b.entries)+1)
	for _, e := range b.entries {
		if e.id != id {
			entries = append(entries, e)
		}
	}
	return entries
}

func (b *Backlog) indexOf(id string) int {
	for i, e := range b.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

// insertionIndex returns the position of the first entry that entry runs before
func insertionIndex(entries []backlogEntry, entry backlogEntry) int {
	for i, e := range entries {
		if entry.runsBefore(e) {
			return i
		}
	}
	return len(entries)
}

func insertAt(entries []backlogEntry, idx int, entry backlogEntry) []backlogEntry {
	entries = append(entries, backlogEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = entry
	return entries
}
