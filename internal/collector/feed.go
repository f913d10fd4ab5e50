package collector

import (
	"sync"

	"github.com/jakopako/livemon/internal/types"
)

// feed keeps the most recent interactions and fans them out to subscribers.
// Slow subscribers miss events instead of blocking the collector.
type feed struct {
	mu     sync.Mutex
	limit  int
	items  []types.Interaction
	total  int
	subs   map[chan types.Interaction]struct{}
	closed bool
}

func newFeed(limit int) *feed {
	return &feed{
		limit: limit,
		subs:  map[chan types.Interaction]struct{}{},
	}
}

func (f *feed) publish(i types.Interaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, i)
	if len(f.items) >= 2*f.limit {
		f.items = append([]types.Interaction(nil), f.items[len(f.items)-f.limit:]...)
	}
	f.total++
	for ch := range f.subs {
		select {
		case ch <- i:
		default:
		}
	}
}

// recent returns up to limit of the latest interactions, oldest first.
func (f *feed) recent() []types.Interaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := max(len(f.items)-f.limit, 0)
	return append([]types.Interaction{}, f.items[start:]...)
}

func (f *feed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *feed) subscribe(buffer int) (<-chan types.Interaction, func()) {
	ch := make(chan types.Interaction, buffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[ch]; ok {
				delete(f.subs, ch)
				close(ch)
			}
		})
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
