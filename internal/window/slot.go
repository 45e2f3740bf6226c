package window

import (
	"context"
	"sync"
)

// MemorySlot is a process-local slot for dev and tests. Subscribers are
// notified on every write; pending notifications coalesce.
type MemorySlot struct {
	mu    sync.Mutex
	value string
	set   bool
	subs  map[chan struct{}]struct{}
}

// NewMemorySlot creates an empty slot.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{subs: make(map[chan struct{}]struct{})}
}

// Load returns the stored value.
func (s *MemorySlot) Load(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set, nil
}

// Store replaces the value and notifies subscribers.
func (s *MemorySlot) Store(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.set = value, true
	s.notifyLocked()
	return nil
}

// Clear removes the value and notifies subscribers.
func (s *MemorySlot) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.set = "", false
	s.notifyLocked()
	return nil
}

// Subscribe returns a channel signalled after every write. It is closed when
// ctx is done.
func (s *MemorySlot) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *MemorySlot) notifyLocked() {
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
