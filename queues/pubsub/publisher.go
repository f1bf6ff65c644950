package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"redis-pubsub-matchmaker/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// Publisher writes JSON envelopes to a single topic. The client is created
// lazily on first publish.
type Publisher struct {
	projectID string
	topicName string
	credsFile string

	mu     sync.Mutex
	client *gpubsub.Client
	topic  *gpubsub.Topic
}

func NewPublisher(projectID, topicName, credsFile string) *Publisher {
	return &Publisher{projectID: projectID, topicName: topicName, credsFile: credsFile}
}

func (p *Publisher) PublishSessionReady(ctx context.Context, n *queues.SessionReady) error {
	id, err := p.publish(ctx, n)
	if err != nil {
		log.Error().Err(err).Str("topic", p.topicName).Strs("guids", n.GUIDs).Str("serverIPandPort", n.ServerIPandPort).Msg("pubsub: failed to publish session ready")
		return err
	}
	log.Debug().Str("messageID", id).Strs("guids", n.GUIDs).Str("serverIPandPort", n.ServerIPandPort).Msg("pubsub: published session ready")
	return nil
}

func (p *Publisher) PublishResult(ctx context.Context, res *queues.MatchResult) error {
	id, err := p.publish(ctx, res)
	if err != nil {
		log.Error().Err(err).Str("topic", p.topicName).Str("playerId", res.PlayerID).Msg("pubsub: failed to publish match result")
		return err
	}
	log.Debug().Str("messageID", id).Str("playerId", res.PlayerID).Str("status", string(res.Status)).Msg("pubsub: published match result")
	return nil
}

// Close stops the topic's background publishers and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	p.topic.Stop()
	err := p.client.Close()
	p.client, p.topic = nil, nil
	return err
}

func (p *Publisher) ensureTopic(ctx context.Context) (*gpubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	client, err := newClient(ctx, p.projectID, p.credsFile)
	if err != nil {
		return nil, eris.Wrapf(err, "create pubsub client for topic %s", p.topicName)
	}
	p.client = client
	p.topic = client.Topic(p.topicName)
	log.Info().Str("topic", p.topicName).Msg("pubsub: publisher initialized")
	return p.topic, nil
}

func (p *Publisher) publish(ctx context.Context, v any) (string, error) {
	topic, err := p.ensureTopic(ctx)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "marshal envelope")
	}
	// wait for the server ack so callers can compensate on failure
	id, err := topic.Publish(ctx, &gpubsub.Message{Data: b}).Get(ctx)
	if err != nil {
		return "", eris.Wrapf(err, "publish to %s", p.topicName)
	}
	return id, nil
}
