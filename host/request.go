package host

import (
	"time"

	"github.com/google/uuid"

	"github.com/ardnew/prucam/pkg"
)

// Request records one capture cycle. It is created when Capture acquires
// the capture lock and handed to observers when the cycle ends.
type Request struct {
	ID      uuid.UUID
	State   pkg.RequestState
	Started time.Time
	Elapsed time.Duration
	Bytes   int
	Err     error

	// StaleCompletion is set when a completion left by an abandoned cycle
	// was cleared before this cycle's trigger.
	StaleCompletion bool
}

func newRequest() *Request {
	return &Request{
		ID:      uuid.New(),
		State:   pkg.RequestIdle,
		Started: time.Now(),
	}
}

// advance moves the request to state and logs the transition.
func (r *Request) advance(state pkg.RequestState) {
	pkg.LogDebug(pkg.ComponentHost, "request state",
		"id", r.ID, "from", r.State, "to", state)
	r.State = state
}

// finish records the terminal state and outcome.
func (r *Request) finish(state pkg.RequestState, n int, err error) {
	r.advance(state)
	r.Bytes = n
	r.Err = err
	r.Elapsed = time.Since(r.Started)
}

// Observer is called after every capture cycle with the finished request.
// Observers run on the capturing goroutine while the capture lock is still
// held and must not call back into the controller.
type Observer func(Request)
