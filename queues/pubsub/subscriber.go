package pubsub

import (
	"context"
	"sync"
	"time"

	"redis-pubsub-matchmaker/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

const (
	defaultBatchSize   = 32
	defaultBatchWindow = 250 * time.Millisecond
)

// Subscriber receives messages from a subscription and hands them to a
// BatchHandler in groups of up to batchSize, or whatever arrived within
// window of the first message. Failed items are nacked for redelivery and
// everything else in the batch is acked.
type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	batchSize        int
	window           time.Duration

	client *gpubsub.Client
	sub    *gpubsub.Subscription
}

func NewSubscriber(projectID, subscriptionName, credsFile string, batchSize int, window time.Duration) *Subscriber {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	if window <= 0 {
		window = defaultBatchWindow
	}
	return &Subscriber{
		projectID:        projectID,
		subscriptionName: subscriptionName,
		credsFile:        credsFile,
		batchSize:        batchSize,
		window:           window,
	}
}

// Start blocks until ctx is cancelled or the subscription fails.
func (s *Subscriber) Start(ctx context.Context, handler queues.BatchHandler) error {
	if s.client == nil {
		client, err := newClient(ctx, s.projectID, s.credsFile)
		if err != nil {
			return eris.Wrapf(err, "create pubsub client for subscription %s", s.subscriptionName)
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		log.Info().Str("subscription", s.subscriptionName).Int("batchSize", s.batchSize).Dur("window", s.window).Msg("pubsub: subscriber initialized")
	}
	// keep enough messages outstanding to fill a batch while the previous one is handled
	s.sub.ReceiveSettings.MaxOutstandingMessages = 2 * s.batchSize

	in := make(chan *gpubsub.Message)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.batchLoop(ctx, in, handler)
	}()

	err := s.sub.Receive(ctx, func(rctx context.Context, m *gpubsub.Message) {
		log.Debug().Str("messageID", m.ID).Int("size", len(m.Data)).Msg("pubsub: received message")
		select {
		case in <- m:
		case <-rctx.Done():
			m.Nack()
		}
	})
	// Receive returns only after every callback has returned
	close(in)
	wg.Wait()
	if err != nil {
		return eris.Wrapf(err, "receive from %s", s.subscriptionName)
	}
	return nil
}

func (s *Subscriber) batchLoop(ctx context.Context, in <-chan *gpubsub.Message, handler queues.BatchHandler) {
	var pending []*gpubsub.Message
	timer := time.NewTimer(s.window)
	timer.Stop()
	defer timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		s.dispatch(ctx, pending, handler)
		pending = nil
	}
	for {
		select {
		case m, ok := <-in:
			if !ok {
				flush()
				return
			}
			if len(pending) == 0 {
				timer.Reset(s.window)
			}
			pending = append(pending, m)
			if len(pending) >= s.batchSize {
				timer.Stop()
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, batch []*gpubsub.Message, handler queues.BatchHandler) {
	msgs := make([]*queues.Message, len(batch))
	for i, m := range batch {
		msgs[i] = &queues.Message{ID: m.ID, Data: m.Data, PublishTime: m.PublishTime}
	}
	// a batch that has started runs to completion even during shutdown
	res := handler(context.WithoutCancel(ctx), msgs)

	acked, nacked := 0, 0
	for _, m := range batch {
		if res != nil && res.IsFailed(m.ID) {
			m.Nack()
			nacked++
			continue
		}
		m.Ack()
		acked++
	}
	l := log.Debug()
	if nacked > 0 {
		l = log.Warn()
		if err := res.Err(); err != nil {
			l = l.Err(err)
		}
	}
	l.Str("subscription", s.subscriptionName).Int("acked", acked).Int("nacked", nacked).Msg("pubsub: batch settled")
}
