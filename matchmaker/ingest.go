package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"redis-pubsub-matchmaker/metrics"
	"redis-pubsub-matchmaker/queues"
	"redis-pubsub-matchmaker/store"

	"github.com/rs/zerolog/log"
)

type Attacher interface {
	AttachPlayer(ctx context.Context, p store.Player) (string, error)
}

// Ingestor turns batches of player arrival events into session seats.
type Ingestor struct {
	attacher Attacher
}

func NewIngestor(a Attacher) *Ingestor {
	return &Ingestor{attacher: a}
}

// HandleBatch attaches every valid arrival of the batch. Malformed events
// are dropped without side effects; store failures are collected so the rest
// of the batch still runs, and only those items are reported as failed.
func (i *Ingestor) HandleBatch(ctx context.Context, msgs []*queues.Message) *queues.BatchResult {
	start := time.Now()
	res := queues.NewBatchResult(len(msgs))
	for idx, m := range msgs {
		if err := ctx.Err(); err != nil {
			res.Fail(idx, m, err)
			continue
		}
		var arrival queues.PlayerArrival
		if err := json.Unmarshal(m.Data, &arrival); err != nil {
			log.Error().Err(err).Str("messageID", m.ID).Msg("ingest: failed to unmarshal player arrival")
			metrics.ArrivalsTotal.WithLabelValues("dropped").Inc()
			res.Drop(idx, m, fmt.Errorf("unmarshal player arrival: %w", err))
			continue
		}
		log.Debug().Str("messageID", m.ID).Str("playerId", arrival.GUID).Str("tag", arrival.MatchmakingSettings).Msg("ingest: processing player arrival")

		_, err := i.attacher.AttachPlayer(ctx, store.Player{
			GUID:                arrival.GUID,
			Name:                arrival.Name,
			MatchmakingSettings: arrival.MatchmakingSettings,
		})
		switch {
		case err == nil:
			res.Succeed()
		case errors.Is(err, ErrMissingTag), errors.Is(err, ErrMissingPlayerID):
			log.Warn().Err(err).Str("messageID", m.ID).Str("playerId", arrival.GUID).Msg("ingest: dropping invalid player arrival")
			metrics.ArrivalsTotal.WithLabelValues("dropped").Inc()
			res.Drop(idx, m, err)
		default:
			metrics.ArrivalsTotal.WithLabelValues("failed").Inc()
			res.Fail(idx, m, err)
		}
	}

	metrics.BatchDuration.WithLabelValues("arrivals").Observe(time.Since(start).Seconds())
	ev := log.Info()
	if len(res.Failed) > 0 {
		ev = log.Warn().Err(res.Err())
	}
	ev.Int("size", res.Size).Int("processed", res.Processed).Int("dropped", len(res.Dropped)).Int("failed", len(res.Failed)).Msg("ingest: batch handled")
	return res
}
