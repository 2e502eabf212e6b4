// Package slidingwindow buffers, reorders and de-duplicates live messages
// within a configurable time window before handing them to a consumer in
// order.
package slidingwindow

import (
	"sort"
	"sync"
	"time"
)

// Message is anything a SlidingWindow can buffer: an id used for ordering
// and de-duplication, plus an opaque payload carried through untouched.
type Message struct {
	ID      string
	Payload any
}

// Less reports whether a sorts before b. The default orderer is numeric if
// both ids parse as integers, lexicographic otherwise.
type Less func(a, b string) bool

// Emit is called once per expiry with every message that is now due, in
// sorted order.
type Emit func(batch []Message)

// SlidingWindow reorders live messages by id within bufferMs before
// emitting them. A bufferMs of zero disables buffering: Add emits
// synchronously.
type SlidingWindow struct {
	bufferMs time.Duration
	less     Less
	emit     Emit

	// afterFunc is swappable in tests to avoid real timers.
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu      sync.Mutex
	pending []*entry
	seen    map[string]struct{}
}

type entry struct {
	msg   Message
	timer *time.Timer
}

// New constructs a SlidingWindow. less orders ids; bufferMs is the
// reordering window. emit is called with each due batch.
func New(bufferMs time.Duration, less Less, emit Emit) *SlidingWindow {
	return &SlidingWindow{
		bufferMs:  bufferMs,
		less:      less,
		emit:      emit,
		afterFunc: time.AfterFunc,
		seen:      make(map[string]struct{}),
	}
}

// Add buffers msg, or emits it immediately if buffering is disabled. While
// buffering, a message whose id is already in the buffer is dropped
// silently; with buffering disabled no duplicate check is made.
func (w *SlidingWindow) Add(msg Message) {
	if w.bufferMs <= 0 {
		w.emit([]Message{msg})
		return
	}

	w.mu.Lock()
	if _, dup := w.seen[msg.ID]; dup {
		w.mu.Unlock()
		return
	}
	w.seen[msg.ID] = struct{}{}

	e := &entry{msg: msg}
	idx := sort.Search(len(w.pending), func(i int) bool {
		return w.less(msg.ID, w.pending[i].msg.ID)
	})
	w.pending = append(w.pending, nil)
	copy(w.pending[idx+1:], w.pending[idx:])
	w.pending[idx] = e
	e.timer = w.afterFunc(w.bufferMs, func() { w.expire(e) })
	w.mu.Unlock()
}

// expire fires bufferMs after a message was added. It emits that message
// and every message still pending that sorts before it, as a single batch,
// preserving the emission-order invariant even if the timer fires late.
func (w *SlidingWindow) expire(e *entry) {
	w.mu.Lock()
	idx := -1
	for i, p := range w.pending {
		if p == e {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Already swept up by an earlier expiry.
		w.mu.Unlock()
		return
	}

	batch := make([]Message, idx+1)
	for i := 0; i <= idx; i++ {
		batch[i] = w.pending[i].msg
		delete(w.seen, w.pending[i].msg.ID)
		if w.pending[i].timer != nil {
			w.pending[i].timer.Stop()
		}
	}
	w.pending = w.pending[idx+1:]
	w.mu.Unlock()

	w.emit(batch)
}

// Pending returns the number of messages currently buffered, for
// diagnostics.
func (w *SlidingWindow) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
