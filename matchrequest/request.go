package matchrequest

import (
	"context"
	"sync"
	"time"
)

type State string

const (
	StateWaiting   State = "Waiting"
	StateMatched   State = "Matched"
	StateTimedOut  State = "TimedOut"
	StateCompleted State = "Completed"
)

// Request tracks one player waiting for a server assignment. It leaves
// Waiting exactly once, either through an assignment or its deadline.
type Request struct {
	PlayerID  string
	StartedAt time.Time
	Deadline  time.Time

	mu         sync.Mutex
	state      State
	resolution State
	outcome    string
	finishedAt time.Time
	resolved   chan struct{}
	done       chan struct{}
}

// Status is a point-in-time view of a request.
type Status struct {
	PlayerID   string    `json:"playerId"`
	State      State     `json:"state"`
	Resolution State     `json:"resolution,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	Deadline   time.Time `json:"deadline"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

func newRequest(playerID string, now time.Time, timeout time.Duration) *Request {
	return &Request{
		PlayerID:  playerID,
		StartedAt: now,
		Deadline:  now.Add(timeout),
		state:     StateWaiting,
		resolved:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// resolve moves the request out of Waiting. It returns false when the request
// was already resolved, so the losing side of the timer/assignment race is a
// no-op.
func (r *Request) resolve(state State, outcome string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateWaiting {
		return false
	}
	r.state = state
	r.resolution = state
	r.outcome = outcome
	close(r.resolved)
	return true
}

func (r *Request) complete(now time.Time) {
	r.mu.Lock()
	r.state = StateCompleted
	r.finishedAt = now
	r.mu.Unlock()
	close(r.done)
}

func (r *Request) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		PlayerID:   r.PlayerID,
		State:      r.state,
		Resolution: r.resolution,
		Outcome:    r.outcome,
		StartedAt:  r.StartedAt,
		Deadline:   r.Deadline,
		FinishedAt: r.finishedAt,
	}
}

// Done is closed once the request is Completed.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request completes and returns its outcome: the
// server address, or the timed-out message.
func (r *Request) Wait(ctx context.Context) (string, error) {
	select {
	case <-r.done:
		st := r.Status()
		return st.Outcome, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
