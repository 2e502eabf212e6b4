// Package historyresumer merges paginated channel history with buffered
// live messages to locate a caller-supplied resume boundary, then flushes
// everything newer than that boundary to a consumer in order.
package historyresumer

import (
	"fmt"
	"sync"

	"github.com/modelsync/modelsync/internal/slidingwindow"
)

// Message is a single historical or live message, identified by ID for
// ordering, boundary comparison and de-duplication.
type Message = slidingwindow.Message

// Compare orders two ids: negative if a sorts before b, zero if equal,
// positive if a sorts after b.
type Compare func(a, b string) int

// state is the resumer's internal seeking/ready state.
type state int

const (
	stateSeeking state = iota
	stateReady
)

// ErrInvalidState is returned when AddHistoricalMessages is called after
// the resumer has already flushed and transitioned to ready.
var ErrInvalidState = fmt.Errorf("historyresumer: invalid state for operation")

// ErrBoundaryNotFound is returned by Finish when history pagination is
// exhausted without ever locating the resume boundary, for a non-genesis
// sequenceID. The Stream maps this to modelsync.ErrInsufficientHistory.
var ErrBoundaryNotFound = fmt.Errorf("historyresumer: sequenceId not found in retained history")

// GenesisSequenceID is the sentinel boundary meaning "no prior confirmed
// state": since real sequenceIds are positive and monotonic, "0" precedes
// every real id, so a resumer seeking it can safely treat the entire
// retained history as newer-than-boundary once pagination is exhausted,
// with no risk of a retention-window gap hiding older events.
const GenesisSequenceID = "0"

// Resumer locates the first historical message with id <= sequenceID,
// discards it and everything older, then emits every newer historical
// message followed by every message buffered while seeking, all in order.
// After that it becomes a pass-through to the downstream SlidingWindow for
// localised live-message reordering.
type Resumer struct {
	sequenceID string
	compare    Compare
	window     *slidingwindow.SlidingWindow
	sink       slidingwindow.Emit

	mu          sync.Mutex
	st          state
	accumulated []Message // newest-first
	liveQueue   []Message
}

// New constructs a Resumer seeking boundary sequenceID. window is the
// SlidingWindow live messages are handed to once the boundary is found (and
// for every live message once ready); sink receives the synchronous
// historical-tail flush and is also the window's own Emit target, so both
// paths converge on one ordered stream for the consumer.
func New(sequenceID string, compare Compare, window *slidingwindow.SlidingWindow, sink slidingwindow.Emit) *Resumer {
	return &Resumer{
		sequenceID: sequenceID,
		compare:    compare,
		window:     window,
		sink:       sink,
		st:         stateSeeking,
	}
}

// AddHistoricalMessages appends a newest-to-oldest page of history. It
// returns (true, nil) once the boundary (or channel-has-no-history) case is
// resolved and the resumer has flushed to ready; (false, nil) when more
// pages are needed to locate the boundary; or a non-nil error if called
// after the resumer is already ready.
func (r *Resumer) AddHistoricalMessages(page []Message) (bool, error) {
	r.mu.Lock()

	if r.st == stateReady {
		r.mu.Unlock()
		return false, ErrInvalidState
	}

	if len(page) == 0 && len(r.accumulated) == 0 {
		live := r.liveQueue
		r.liveQueue = nil
		r.st = stateReady
		r.mu.Unlock()
		for _, m := range live {
			r.window.Add(m)
		}
		return true, nil
	}

	r.accumulated = append(r.accumulated, page...)
	r.sortNewestFirstLocked()

	boundaryIdx := -1
	for i, m := range r.accumulated {
		if r.compare(m.ID, r.sequenceID) <= 0 {
			boundaryIdx = i
			break
		}
	}
	if boundaryIdx == -1 {
		// Boundary not yet found; caller should fetch another page.
		r.mu.Unlock()
		return false, nil
	}

	newerNewestFirst := r.accumulated[:boundaryIdx]
	tail := make([]Message, len(newerNewestFirst))
	for i, m := range newerNewestFirst {
		tail[len(tail)-1-i] = m
	}

	live := r.liveQueue
	r.liveQueue = nil
	r.accumulated = nil
	r.st = stateReady
	r.mu.Unlock()

	if len(tail) > 0 {
		r.sink(tail)
	}
	for _, m := range live {
		r.window.Add(m)
	}
	return true, nil
}

// Finish is called by the Stream when history pagination is exhausted
// (hasNext became false) without AddHistoricalMessages ever locating the
// boundary. For the genesis sequenceID this flushes everything accumulated
// so far (nothing can precede it); for any other sequenceID this means the
// boundary has fallen out of the channel's retention window, reported as
// ErrBoundaryNotFound.
func (r *Resumer) Finish() (bool, error) {
	r.mu.Lock()
	if r.st == stateReady {
		r.mu.Unlock()
		return true, nil
	}
	if r.sequenceID != GenesisSequenceID {
		r.mu.Unlock()
		return false, ErrBoundaryNotFound
	}

	newestFirst := r.accumulated
	r.accumulated = nil
	tail := make([]Message, len(newestFirst))
	for i, m := range newestFirst {
		tail[len(tail)-1-i] = m
	}
	live := r.liveQueue
	r.liveQueue = nil
	r.st = stateReady
	r.mu.Unlock()

	if len(tail) > 0 {
		r.sink(tail)
	}
	for _, m := range live {
		r.window.Add(m)
	}
	return true, nil
}

// AddLiveMessage feeds a message observed on the live channel. While
// seeking it is queued for the post-flush drain; once ready it passes
// straight through to the SlidingWindow.
func (r *Resumer) AddLiveMessage(msg Message) {
	r.mu.Lock()
	if r.st != stateReady {
		r.liveQueue = append(r.liveQueue, msg)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.window.Add(msg)
}

// Ready reports whether the resumer has located its boundary and flushed.
func (r *Resumer) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st == stateReady
}

// sortNewestFirstLocked re-sorts the accumulator newest-first, tolerating
// per-page out-of-order ids within the retention window. Caller must hold
// r.mu.
func (r *Resumer) sortNewestFirstLocked() {
	// Simple insertion sort: history pages are small (HistoryPageSize) and
	// already mostly newest-first, so this stays effectively linear.
	for i := 1; i < len(r.accumulated); i++ {
		for j := i; j > 0 && r.compare(r.accumulated[j].ID, r.accumulated[j-1].ID) > 0; j-- {
			r.accumulated[j], r.accumulated[j-1] = r.accumulated[j-1], r.accumulated[j]
		}
	}
}
