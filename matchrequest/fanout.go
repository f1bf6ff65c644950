package matchrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"redis-pubsub-matchmaker/metrics"
	"redis-pubsub-matchmaker/queues"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

var errMalformedNotification = errors.New("malformed session ready notification")

// Deliverer accepts a server assignment for a player.
type Deliverer interface {
	Deliver(playerID, addr string) error
}

// Fanout forwards session ready notifications to the match requests of the
// listed players.
type Fanout struct {
	requests Deliverer
}

func NewFanout(d Deliverer) *Fanout {
	return &Fanout{requests: d}
}

// HandleBatch delivers every notification of the batch. Players whose request
// lives on another replica are skipped; any other delivery error marks the
// notification failed without stopping the remaining players.
func (f *Fanout) HandleBatch(ctx context.Context, msgs []*queues.Message) *queues.BatchResult {
	start := time.Now()
	res := queues.NewBatchResult(len(msgs))
	for i, m := range msgs {
		if err := ctx.Err(); err != nil {
			res.Fail(i, m, err)
			continue
		}
		var n queues.SessionReady
		if err := json.Unmarshal(m.Data, &n); err != nil {
			log.Error().Err(err).Str("messageID", m.ID).Msg("fanout: failed to unmarshal notification")
			res.Drop(i, m, fmt.Errorf("%w: %v", errMalformedNotification, err))
			continue
		}
		if n.Command != queues.CommandSessionReady || n.ServerIPandPort == "" {
			log.Error().Str("messageID", m.ID).Str("command", n.Command).Msg("fanout: invalid notification payload")
			res.Drop(i, m, errMalformedNotification)
			continue
		}
		if err := f.deliver(&n); err != nil {
			res.Fail(i, m, err)
			continue
		}
		res.Succeed()
	}
	metrics.BatchDuration.WithLabelValues("notifications").Observe(time.Since(start).Seconds())
	return res
}

func (f *Fanout) deliver(n *queues.SessionReady) error {
	var merr *multierror.Error
	for _, pid := range n.GUIDs {
		if pid == "" {
			continue
		}
		err := f.requests.Deliver(pid, n.ServerIPandPort)
		switch {
		case err == nil:
			log.Info().Str("playerId", pid).Str("addr", n.ServerIPandPort).Msg("fanout: sending connection details to player")
		case errors.Is(err, ErrNoRequest):
			log.Debug().Str("playerId", pid).Msg("fanout: player not waiting on this replica")
		default:
			log.Error().Err(err).Str("playerId", pid).Msg("fanout: delivery failed")
			merr = multierror.Append(merr, fmt.Errorf("player %s: %w", pid, err))
		}
	}
	return merr.ErrorOrNil()
}
