package allocator

import (
	"context"
	"errors"
	"time"

	"redis-pubsub-matchmaker/metrics"
	"redis-pubsub-matchmaker/queues"
	"redis-pubsub-matchmaker/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultLeaseTTL = 30 * time.Second

// Store is the part of store.Store the sweep needs.
type Store interface {
	AcquireSweepLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseSweepLease(ctx context.Context, owner string) error
	ReadySessions(ctx context.Context) ([]string, error)
	SessionPlayers(ctx context.Context, sessionID string) ([]string, error)
	PopServer(ctx context.Context) (id string, addr string, ok bool, err error)
	ReleaseServer(ctx context.Context, id string) error
	FlushSession(ctx context.Context, sessionID string) (bool, error)
	FlushPlayer(ctx context.Context, guid string) error
	StalePlayers(ctx context.Context, before time.Time) ([]string, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Controller pairs ready sessions with available servers and announces the
// assignment on the session-ready topic.
type Controller struct {
	store      Store
	publisher  queues.SessionReadyPublisher
	owner      string
	leaseTTL   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// NewController builds a sweep controller. Players waiting longer than
// staleAfter are reaped on every sweep; zero disables reaping.
func NewController(s Store, p queues.SessionReadyPublisher, staleAfter time.Duration) *Controller {
	return &Controller{
		store:      s,
		publisher:  p,
		owner:      uuid.NewString(),
		leaseTTL:   defaultLeaseTTL,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Sweep runs one allocation pass. A failure on one session never blocks the
// others; only errors that prevent the pass from starting are returned.
func (c *Controller) Sweep(ctx context.Context) (*SweepReport, error) {
	rep := &SweepReport{StartedAt: c.now()}
	defer func() {
		rep.Duration = time.Since(rep.StartedAt)
		if !rep.Skipped {
			metrics.SweepDuration.Observe(rep.Duration.Seconds())
		}
	}()

	ok, err := c.store.AcquireSweepLease(ctx, c.owner, c.leaseTTL)
	if err != nil {
		log.Error().Err(err).Msg("allocator: failed to acquire sweep lease")
		return rep, err
	}
	if !ok {
		log.Debug().Msg("allocator: sweep lease held by another replica, skipping")
		rep.Skipped = true
		return rep, nil
	}
	defer func() {
		if err := c.store.ReleaseSweepLease(context.WithoutCancel(ctx), c.owner); err != nil {
			log.Warn().Err(err).Msg("allocator: failed to release sweep lease")
		}
	}()

	ids, err := c.store.ReadySessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("allocator: failed to list ready sessions")
		return rep, err
	}
	rep.Ready = len(ids)

	for _, sid := range ids {
		if ctx.Err() != nil {
			break
		}
		switch c.allocate(ctx, sid) {
		case outcomeAllocated:
			rep.Allocated++
		case outcomePending:
			rep.Pending++
		default:
			rep.Failed++
		}
	}

	rep.Reaped = c.reap(ctx)
	c.updateGauges(ctx)

	ev := log.Info()
	if rep.Ready == 0 && rep.Reaped == 0 {
		ev = log.Debug()
	}
	ev.Int("ready", rep.Ready).Int("allocated", rep.Allocated).Int("pending", rep.Pending).Int("failed", rep.Failed).Int("reaped", rep.Reaped).Msg("allocator: sweep finished")
	if rep.Pending > 0 {
		log.Warn().Int("pending", rep.Pending).Msg("allocator: server pool exhausted, more capacity required")
	}
	return rep, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeAllocated
	outcomePending
)

func (c *Controller) allocate(ctx context.Context, sid string) outcome {
	l := log.With().Str("sessionId", sid).Logger()

	serverID, addr, ok, err := c.store.PopServer(ctx)
	switch {
	case errors.Is(err, store.ErrUnknownServer):
		// the pool entry has no address; it stays out of the pool
		l.Error().Err(err).Str("serverId", serverID).Msg("allocator: popped server has no registered address")
		metrics.AllocationsTotal.WithLabelValues("failure").Inc()
		return outcomeFailed
	case err != nil:
		l.Error().Err(err).Msg("allocator: failed to pop server")
		metrics.AllocationsTotal.WithLabelValues("failure").Inc()
		return outcomeFailed
	case !ok:
		l.Debug().Msg("allocator: no server available, session stays ready")
		metrics.AllocationsTotal.WithLabelValues("no_server").Inc()
		return outcomePending
	}
	l = l.With().Str("serverId", serverID).Str("serverIPandPort", addr).Logger()

	players, err := c.store.SessionPlayers(ctx, sid)
	if err != nil {
		l.Error().Err(err).Msg("allocator: failed to read session players")
		c.release(ctx, serverID)
		metrics.AllocationsTotal.WithLabelValues("failure").Inc()
		return outcomeFailed
	}
	if len(players) == 0 {
		l.Warn().Msg("allocator: ready session has no players, flushing it")
		c.release(ctx, serverID)
		c.flush(ctx, sid)
		metrics.AllocationsTotal.WithLabelValues("failure").Inc()
		return outcomeFailed
	}

	n := &queues.SessionReady{
		Command:         queues.CommandSessionReady,
		GUIDs:           players,
		ServerIPandPort: addr,
	}
	if err := c.publisher.PublishSessionReady(ctx, n); err != nil {
		l.Error().Err(err).Msg("allocator: failed to publish session ready, session stays ready")
		c.release(ctx, serverID)
		metrics.AllocationsTotal.WithLabelValues("failure").Inc()
		return outcomeFailed
	}

	c.flush(ctx, sid)
	metrics.AllocationsTotal.WithLabelValues("success").Inc()
	l.Info().Strs("guids", players).Msg("allocator: session assigned to server")
	return outcomeAllocated
}

func (c *Controller) release(ctx context.Context, serverID string) {
	if err := c.store.ReleaseServer(context.WithoutCancel(ctx), serverID); err != nil {
		log.Error().Err(err).Str("serverId", serverID).Msg("allocator: failed to return server to the pool")
	}
}

func (c *Controller) flush(ctx context.Context, sid string) {
	removed, err := c.store.FlushSession(context.WithoutCancel(ctx), sid)
	if err != nil {
		// the session stays ready and will be announced again on the next sweep
		log.Error().Err(err).Str("sessionId", sid).Msg("allocator: failed to flush session")
		return
	}
	if !removed {
		log.Debug().Str("sessionId", sid).Msg("allocator: session already flushed")
	}
}

func (c *Controller) reap(ctx context.Context) int {
	if c.staleAfter <= 0 {
		return 0
	}
	stale, err := c.store.StalePlayers(ctx, c.now().Add(-c.staleAfter))
	if err != nil {
		log.Error().Err(err).Msg("allocator: failed to list stale players")
		return 0
	}
	reaped := 0
	for _, guid := range stale {
		if err := c.store.FlushPlayer(ctx, guid); err != nil {
			log.Error().Err(err).Str("playerId", guid).Msg("allocator: failed to reap stale player")
			continue
		}
		reaped++
	}
	if reaped > 0 {
		log.Info().Int("reaped", reaped).Dur("staleAfter", c.staleAfter).Msg("allocator: reaped stale players")
	}
	return reaped
}

func (c *Controller) updateGauges(ctx context.Context) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("allocator: failed to read store stats")
		return
	}
	metrics.ReadySessions.Set(float64(stats.ReadySessions))
	metrics.AvailableServers.Set(float64(stats.AvailableServers))
	metrics.WaitingPlayers.Set(float64(stats.WaitingPlayers))
}
