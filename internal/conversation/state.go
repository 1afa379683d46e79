package conversation

import (
	"context"
	"sync"
	"sync/atomic"
)

// WorkItem is one sentence waiting for speech synthesis, tagged with the
// generation token of the turn that produced it.
type WorkItem struct {
	Token    uint64
	Sentence string
}

// State owns the generation token and the synthesis queue of one
// conversation. Only the engine advances the token; the pipeline and the
// worker read it and use the queue.
//
// Lock order is gate before qmu. Emits of token-bound events happen under
// the read side of gate (see Live) and Advance holds the write side while it
// bumps the token, purges and announces the stop, so nothing from an older
// token is emitted after that announcement.
type State struct {
	token atomic.Uint64
	gate  sync.RWMutex

	qmu    sync.Mutex
	items  []WorkItem
	notify chan struct{}
}

func NewState() *State {
	return &State{notify: make(chan struct{}, 1)}
}

// Token returns the live generation token.
func (s *State) Token() uint64 {
	return s.token.Load()
}

// IsLive reports whether token is the live token.
func (s *State) IsLive(token uint64) bool {
	return s.token.Load() == token
}

// Live runs fn if token is live and reports whether it did. The token cannot
// advance while fn runs, so fn must not block and must not call Live or
// Advance.
func (s *State) Live(token uint64, fn func()) bool {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.token.Load() != token {
		return false
	}
	if fn != nil {
		fn()
	}
	return true
}

// Advance makes a new token live and removes every queued item bearing an
// older one. announce, if set, runs before any holder of the new token can
// emit and before a stale holder can observe the old token again.
func (s *State) Advance(announce func(token uint64, purged int)) uint64 {
	s.gate.Lock()
	defer s.gate.Unlock()

	next := s.token.Add(1)

	s.qmu.Lock()
	kept := s.items[:0]
	for _, item := range s.items {
		if item.Token >= next {
			kept = append(kept, item)
		}
	}
	purged := len(s.items) - len(kept)
	clear(s.items[len(kept):])
	s.items = kept
	s.qmu.Unlock()

	if announce != nil {
		announce(next, purged)
	}
	return next
}

// Enqueue appends item unless its token is already stale. The check and the
// append share the queue lock with the purge in Advance, so a stale item is
// either rejected here or removed there.
func (s *State) Enqueue(item WorkItem) bool {
	s.qmu.Lock()
	if s.token.Load() != item.Token {
		s.qmu.Unlock()
		return false
	}
	s.items = append(s.items, item)
	s.qmu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue blocks until an item is available or ctx is done. Items are
// returned in FIFO order and may be stale by the time the caller looks.
func (s *State) Dequeue(ctx context.Context) (WorkItem, error) {
	for {
		s.qmu.Lock()
		if len(s.items) > 0 {
			item := s.items[0]
			s.items[0] = WorkItem{}
			s.items = s.items[1:]
			s.qmu.Unlock()
			return item, nil
		}
		s.qmu.Unlock()

		select {
		case <-ctx.Done():
			return WorkItem{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Pending returns a copy of the queued items.
func (s *State) Pending() []WorkItem {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return append([]WorkItem(nil), s.items...)
}

func (s *State) Len() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.items)
}
