package matchmaker

import (
	"context"
	"errors"
	"strings"
	"time"

	"redis-pubsub-matchmaker/matchrequest"
	"redis-pubsub-matchmaker/metrics"
	"redis-pubsub-matchmaker/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingTag      = errors.New("missing matchmaking settings")
	ErrMissingPlayerID = errors.New("missing player guid")
)

// SessionStore seats players atomically; see store.Store.AttachPlayer.
type SessionStore interface {
	AttachPlayer(ctx context.Context, p store.Player, newSessionID string, capacity int, now time.Time) (*store.Attachment, error)
}

type RequestStarter interface {
	Start(playerID string) (*matchrequest.Request, bool)
}

// Manager groups players into sessions of a fixed capacity per matchmaking
// tag and starts a match request for every seated player.
type Manager struct {
	store    SessionStore
	requests RequestStarter
	capacity int
	newID    func() string
	now      func() time.Time
}

func NewManager(s SessionStore, r RequestStarter, capacity int) *Manager {
	return &Manager{
		store:    s,
		requests: r,
		capacity: capacity,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// AttachPlayer finds or creates an open session for the player's tag, joins
// it and returns its id. A store error leaves no partial seat behind.
func (m *Manager) AttachPlayer(ctx context.Context, p store.Player) (string, error) {
	if strings.TrimSpace(p.GUID) == "" {
		return "", ErrMissingPlayerID
	}
	if strings.TrimSpace(p.MatchmakingSettings) == "" {
		return "", ErrMissingTag
	}

	a, err := m.store.AttachPlayer(ctx, p, m.newID(), m.capacity, m.now())
	if err != nil {
		log.Error().Err(err).Str("playerId", p.GUID).Str("tag", p.MatchmakingSettings).Msg("matchmaker: attach failed")
		return "", err
	}

	l := log.With().Str("playerId", p.GUID).Str("sessionId", a.SessionID).Str("tag", p.MatchmakingSettings).Int("remaining", a.Remaining).Logger()
	switch {
	case a.Redelivered:
		metrics.ArrivalsTotal.WithLabelValues("redelivered").Inc()
		l.Info().Msg("matchmaker: player already seated")
	case a.Created:
		metrics.ArrivalsTotal.WithLabelValues("attached").Inc()
		metrics.SessionsCreatedTotal.Inc()
		l.Info().Msg("matchmaker: session not found for the player, a new one was created")
	default:
		metrics.ArrivalsTotal.WithLabelValues("attached").Inc()
		l.Info().Msg("matchmaker: player added to session")
	}
	if a.Ready && !a.Redelivered {
		metrics.SessionsReadyTotal.Inc()
		l.Info().Msg("matchmaker: session is full and ready for a server")
	}

	if _, started := m.requests.Start(p.GUID); !started {
		l.Debug().Msg("matchmaker: match request already in flight")
	}
	return a.SessionID, nil
}
