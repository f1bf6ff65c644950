package matchrequest

import (
	"context"
	"errors"
	"sync"
	"time"

	"redis-pubsub-matchmaker/metrics"
	"redis-pubsub-matchmaker/queues"

	"github.com/rs/zerolog/log"
)

var ErrNoRequest = errors.New("no match request for player")

const (
	defaultRetention = 5 * time.Minute
	cleanupTimeout   = 5 * time.Second
)

// Cleaner removes the persisted state of a player once its request ends.
type Cleaner interface {
	FlushPlayer(ctx context.Context, playerID string) error
}

type Option func(*Registry)

// WithResultPublisher publishes every completed request's outcome.
func WithResultPublisher(p queues.ResultPublisher) Option {
	return func(g *Registry) { g.results = p }
}

// WithRetention keeps completed requests queryable for d.
func WithRetention(d time.Duration) Option {
	return func(g *Registry) { g.retention = d }
}

// Registry owns the match requests started on this replica, keyed by player.
// A player has at most one request in Waiting at a time.
type Registry struct {
	ctx       context.Context
	mu        sync.RWMutex
	requests  map[string]*Request
	cleaner   Cleaner
	results   queues.ResultPublisher
	timeout   time.Duration
	retention time.Duration
	wg        sync.WaitGroup
}

// NewRegistry creates a registry whose requests live until ctx is done; a
// cancelled ctx resolves every waiting request as timed out.
func NewRegistry(ctx context.Context, cleaner Cleaner, timeout time.Duration, opts ...Option) *Registry {
	g := &Registry{
		ctx:       ctx,
		requests:  make(map[string]*Request),
		cleaner:   cleaner,
		timeout:   timeout,
		retention: defaultRetention,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Start begins waiting for a server on behalf of playerID. If the player
// already has a request that has not completed, that request is returned and
// started is false.
func (g *Registry) Start(playerID string) (req *Request, started bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.requests[playerID]; ok {
		select {
		case <-existing.done:
		default:
			return existing, false
		}
	}

	req = newRequest(playerID, time.Now(), g.timeout)
	g.requests[playerID] = req
	metrics.InflightRequests.Inc()

	g.wg.Add(1)
	go g.run(g.ctx, req)

	log.Debug().Str("playerId", playerID).Time("deadline", req.Deadline).Msg("matchrequest: waiting for server")
	return req, true
}

// Deliver hands a server address to the player's waiting request. Assignments
// that arrive after the request resolved are ignored.
func (g *Registry) Deliver(playerID, addr string) error {
	req, ok := g.Get(playerID)
	if !ok {
		return ErrNoRequest
	}
	if !req.resolve(StateMatched, addr) {
		log.Debug().Str("playerId", playerID).Str("addr", addr).Msg("matchrequest: late assignment ignored")
		return nil
	}
	metrics.NotificationsDeliveredTotal.Inc()
	return nil
}

func (g *Registry) Get(playerID string) (*Request, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	req, ok := g.requests[playerID]
	return req, ok
}

// Len returns the number of tracked requests, completed ones included.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.requests)
}

// Wait blocks until every started request has completed.
func (g *Registry) Wait() {
	g.wg.Wait()
}

func (g *Registry) run(ctx context.Context, req *Request) {
	defer g.wg.Done()

	timer := time.NewTimer(time.Until(req.Deadline))
	select {
	case <-req.resolved:
	case <-timer.C:
		req.resolve(StateTimedOut, queues.TimedOutMessage)
	case <-ctx.Done():
		req.resolve(StateTimedOut, queues.TimedOutMessage)
	}
	timer.Stop()

	st := req.Status()
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := g.cleaner.FlushPlayer(cctx, req.PlayerID); err != nil {
		log.Error().Err(err).Str("playerId", req.PlayerID).Msg("matchrequest: player cleanup failed")
	}

	req.complete(time.Now())
	metrics.InflightRequests.Dec()
	metrics.MatchOutcomesTotal.WithLabelValues(outcomeLabel(st.Resolution)).Inc()
	log.Info().Str("playerId", req.PlayerID).Str("status", string(st.Resolution)).Str("outcome", st.Outcome).
		Dur("waited", time.Since(req.StartedAt)).Msg("matchrequest: completed")

	if g.results != nil {
		res := &queues.MatchResult{
			EnvelopeVersion: "1.0",
			Type:            "match-result",
			PlayerID:        req.PlayerID,
			Status:          queues.MatchStatus(st.Resolution),
			Outcome:         st.Outcome,
		}
		if err := g.results.PublishResult(cctx, res); err != nil {
			log.Error().Err(err).Str("playerId", req.PlayerID).Msg("matchrequest: failed to publish match result")
		}
	}

	time.AfterFunc(g.retention, func() { g.forget(req) })
}

func outcomeLabel(s State) string {
	if s == StateMatched {
		return "matched"
	}
	return "timed_out"
}

// forget drops a completed request unless it was already replaced.
func (g *Registry) forget(req *Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.requests[req.PlayerID]; ok && cur == req {
		delete(g.requests, req.PlayerID)
	}
}
