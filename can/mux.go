package can

import (
	"context"
	"sync"
)

// Mux multiplexes frames from a Bus to any number of subscribers via
// filters.
//
// It owns the provided Bus instance for receiving and runs a single
// background goroutine to read from Receive and fan-out frames to
// subscribers. This avoids having multiple goroutines competing to Receive
// and lets several isotp.Transport instances, or other filtered consumers,
// share one underlying Bus connection.
//
// Send is not proxied; callers should keep using the original Bus to Send.
type Mux struct {
	bus Bus
	ctx context.Context

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next uint64
}

type subscriber struct {
	filter FrameFilter
	ch     chan Frame
}

// NewMux creates and starts a multiplexer bound to the given Bus. The mux
// stops when ctx is cancelled or Close is called.
func NewMux(ctx context.Context, bus Bus) *Mux {
	ctx, cancel := context.WithCancel(ctx)
	m := &Mux{
		bus:    bus,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[uint64]*subscriber),
	}
	go m.run()
	return m
}

// Close stops the background reader and closes all subscriber channels.
func (m *Mux) Close() error {
	m.cancel()
	<-m.done
	return nil
}

// Subscribe registers a new subscriber with the provided filter and channel
// buffer. The returned channel receives frames that match the filter. The
// cancel function should be called when no longer needed; it closes the
// channel.
func (m *Mux) Subscribe(filter FrameFilter, buffer int) (<-chan Frame, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := &subscriber{filter: filter, ch: make(chan Frame, buffer)}
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = s
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if cur, ok := m.subs[id]; ok && cur == s {
			close(cur.ch)
			delete(m.subs, id)
		}
		m.mu.Unlock()
	}
	return s.ch, cancel
}

func (m *Mux) run() {
	defer close(m.done)
	defer m.closeAllSubscribers()
	for {
		if m.ctx.Err() != nil {
			return
		}
		f, err := m.bus.Receive(m.ctx)
		if err != nil {
			return
		}
		m.mu.RLock()
		for _, s := range m.subs {
			if s.filter == nil || s.filter(f) {
				select {
				case s.ch <- f:
				default:
					// Drop if the subscriber is slow and its channel is full.
				}
			}
		}
		m.mu.RUnlock()
	}
}

func (m *Mux) closeAllSubscribers() {
	m.mu.Lock()
	for id, s := range m.subs {
		close(s.ch)
		delete(m.subs, id)
	}
	m.mu.Unlock()
}
