// Package notify publishes capture outcomes to a message broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ardnew/prucam/host"
	"github.com/ardnew/prucam/pkg"
)

// Event is the published form of one capture request.
type Event struct {
	ID        uuid.UUID `json:"id" msgpack:"id"`
	State     string    `json:"state" msgpack:"state"`
	Started   time.Time `json:"started" msgpack:"started"`
	ElapsedMS float64   `json:"elapsed_ms" msgpack:"elapsed_ms"`
	Bytes     int       `json:"bytes" msgpack:"bytes"`
	Error     string    `json:"error,omitempty" msgpack:"error,omitempty"`
	Stale     bool      `json:"stale_completion,omitempty" msgpack:"stale_completion,omitempty"`
	Files     []string  `json:"files,omitempty" msgpack:"files,omitempty"`
}

// FromRequest builds the event for a finished request.
func FromRequest(req host.Request) Event {
	ev := Event{
		ID:        req.ID,
		State:     req.State.String(),
		Started:   req.Started,
		ElapsedMS: float64(req.Elapsed) / float64(time.Millisecond),
		Bytes:     req.Bytes,
		Stale:     req.StaleCompletion,
	}
	if req.Err != nil {
		ev.Error = req.Err.Error()
	}
	return ev
}

// Encoding selects the payload format.
type Encoding int

// Payload encodings.
const (
	JSON Encoding = iota
	MsgPack
)

// Marshal encodes ev.
func (e Encoding) Marshal(ev Event) ([]byte, error) {
	switch e {
	case JSON:
		return json.Marshal(ev)
	case MsgPack:
		return msgpack.Marshal(&ev)
	}
	return nil, fmt.Errorf("%w: encoding %d", pkg.ErrNotSupported, e)
}

// Unmarshal decodes a payload produced by Marshal.
func (e Encoding) Unmarshal(data []byte) (Event, error) {
	var ev Event
	var err error
	switch e {
	case JSON:
		err = json.Unmarshal(data, &ev)
	case MsgPack:
		err = msgpack.Unmarshal(data, &ev)
	default:
		err = fmt.Errorf("%w: encoding %d", pkg.ErrNotSupported, e)
	}
	return ev, err
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// DefaultQueue is the number of events a Queue holds before dropping.
const DefaultQueue = 16

// Queue decouples publishing from the capture path. Capture observers run
// while the capture lock is held, so Offer never blocks: when the queue is
// full the event is dropped and counted.
type Queue struct {
	pub     Publisher
	timeout time.Duration
	ch      chan Event
	done    chan struct{}
	once    sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewQueue starts a queue draining into pub. Each publish is bounded by
// timeout.
func NewQueue(pub Publisher, size int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = DefaultQueue
	}
	q := &Queue{
		pub:     pub,
		timeout: timeout,
		ch:      make(chan Event, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for ev := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.pub.Publish(ctx, ev)
		cancel()
		if err != nil {
			q.failed.Add(1)
			pkg.LogWarn(pkg.ComponentNotify, "publish failed", "id", ev.ID, "error", err)
			continue
		}
		q.published.Add(1)
	}
}

// Offer enqueues ev without blocking. It reports whether ev was accepted.
func (q *Queue) Offer(ev Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		pkg.LogWarn(pkg.ComponentNotify, "event dropped", "id", ev.ID)
		return false
	}
}

// Observer returns a capture observer feeding the queue.
func (q *Queue) Observer() host.Observer {
	return func(req host.Request) { q.Offer(FromRequest(req)) }
}

// Close drains the queue and closes the publisher.
func (q *Queue) Close() error {
	var err error
	q.once.Do(func() {
		close(q.ch)
		<-q.done
		err = q.pub.Close()
	})
	return err
}

// QueueStats counts queue outcomes.
type QueueStats struct {
	Published uint64
	Dropped   uint64
	Failed    uint64
}

// Stats returns the queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Published: q.published.Load(),
		Dropped:   q.dropped.Load(),
		Failed:    q.failed.Load(),
	}
}
