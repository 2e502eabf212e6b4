package slidingwindow

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numericLess(a, b string) bool {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return an < bn
	}
	return a < b
}

func TestAddEmitsImmediatelyWhenBufferDisabled(t *testing.T) {
	var got []Message
	w := New(0, numericLess, func(batch []Message) { got = append(got, batch...) })
	w.Add(Message{ID: "1"})
	w.Add(Message{ID: "2"})
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
}

func TestAddDropsExactDuplicates(t *testing.T) {
	var mu sync.Mutex
	var got []Message
	w := New(20*time.Millisecond, numericLess, func(batch []Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, batch...)
	})
	w.Add(Message{ID: "5"})
	w.Add(Message{ID: "5"})

	deadline := time.After(500 * time.Millisecond)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for emission")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "5", got[0].ID)
}

func TestEmissionOrderIsSortedAcrossAWindow(t *testing.T) {
	var mu sync.Mutex
	var got []Message
	done := make(chan struct{})
	w := New(30*time.Millisecond, numericLess, func(batch []Message) {
		mu.Lock()
		got = append(got, batch...)
		n := len(got)
		mu.Unlock()
		if n >= 3 {
			close(done)
		}
	})

	w.Add(Message{ID: "3"})
	w.Add(Message{ID: "1"})
	w.Add(Message{ID: "2"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}
