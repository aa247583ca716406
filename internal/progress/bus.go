// Package progress broadcasts typed indexing status to in-process observers.
package progress

import "sync/atomic"

// Phase is an advisory hint for observers; only idle, complete and error are
// terminal for a batch.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseScanning  Phase = "scanning"
	PhaseEmbedding Phase = "embedding"
	PhaseWriting   Phase = "writing"
	PhaseQdrant    Phase = "qdrant"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// Status is one progress report.
type Status struct {
	Phase        Phase   `json:"phase"`
	Total        int     `json:"total"`
	Done         int     `json:"done"`
	LastFile     string  `json:"lastFile,omitempty"`
	QdrantPoints *uint64 `json:"qdrantPoints,omitempty"`
	Message      string  `json:"message,omitempty"`
	Err          string  `json:"error,omitempty"`
}

// Bus fans Status values out to subscribers.
//
// Concurrency model: a single internal event loop owns the subscriber set.
// Public methods communicate with the loop through channels, so no mutexes
// are required. Sends to subscriber buffers never block; a slow observer is
// skipped rather than stalling a writer.
type Bus struct {
	subscribeCh   chan chan Status
	unsubscribeCh chan chan Status
	publishCh     chan Status

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBus creates a bus and starts its event loop.
func NewBus() *Bus {
	b := &Bus{
		subscribeCh:   make(chan chan Status),
		unsubscribeCh: make(chan chan Status),
		publishCh:     make(chan Status, 256),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	defer close(b.stopped)

	subscribers := make(map[chan Status]struct{})

	for {
		select {
		case <-b.stopCh:
			for ch := range subscribers {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			subscribers[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}

		case st := <-b.publishCh:
			for ch := range subscribers {
				select {
				case ch <- st:
				default:
					// Subscriber buffer full; skip to keep writers moving.
				}
			}
		}
	}
}

// Close stops the loop and closes every subscriber channel.
func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers an observer and returns its channel.
func (b *Bus) Subscribe() chan Status {
	ch := make(chan Status, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes an observer and closes its channel.
func (b *Bus) Unsubscribe(ch chan Status) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// Publish broadcasts a status to every subscriber, best-effort.
func (b *Bus) Publish(st Status) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- st:
	case <-b.stopped:
	}
}
