// Package scanner delivers barcode reads to whoever is subscribed.
//
// Consumers receive a Source and must call the returned unsubscribe func when
// they go away; nothing is registered globally.
package scanner

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// Source is the capability handed to consumers.
type Source interface {
	Subscribe(fn func(code string)) (unsubscribe func())
}

// Hub fans scanned codes out to subscribers.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(string)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(string))}
}

// Subscribe registers fn. The returned func is safe to call more than once.
func (h *Hub) Subscribe(fn func(code string)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Scan delivers one code and reports how many subscribers got it. Blank
// codes are ignored. Callbacks run outside the lock so they may unsubscribe.
func (h *Hub) Scan(code string) int {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0
	}
	h.mu.RLock()
	targets := make([]func(string), 0, len(h.subs))
	for _, fn := range h.subs {
		targets = append(targets, fn)
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		fn(code)
	}
	return len(targets)
}

// Feed reads one code per line from r until EOF or ctx is done. Keyboard
// wedge scanners type the code followed by Enter, so stdin works as-is.
func Feed(ctx context.Context, r io.Reader, h *Hub) error {
	lines := bufio.NewScanner(r)
	for lines.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.Scan(lines.Text())
	}
	return lines.Err()
}
