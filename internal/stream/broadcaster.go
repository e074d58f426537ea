// Package stream fans captured PCM out to live consumers and hosts the
// browser-facing transports: the WebSocket live monitor and the WebRTC
// microphone ingest.
package stream

import (
	"sync"
)

// Broadcaster fans PCM frames out to any number of listeners. Slow
// listeners drop frames rather than stalling the capture loop.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[int]chan []int16
	nextID    int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[int]chan []int16)}
}

// Subscribe registers a listener. The returned channel is closed on
// Unsubscribe; cancel removes the listener.
func (b *Broadcaster) Subscribe(buffer int) (<-chan []int16, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan []int16, buffer)
	b.listeners[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if l, ok := b.listeners[id]; ok {
			delete(b.listeners, id)
			close(l)
		}
	}
	return ch, cancel
}

// Publish delivers a frame to every listener, skipping any whose buffer
// is full. Implements the capture loop's frame publisher.
func (b *Broadcaster) Publish(frame []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.listeners {
		select {
		case ch <- frame:
		default:
			// listener lagging, drop
		}
	}
}

// Listeners reports the current subscriber count.
func (b *Broadcaster) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
