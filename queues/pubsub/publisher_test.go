package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"redis-pubsub-matchmaker/queues"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial error: %#v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("client error: %#v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublisher_PublishResult(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}
	ctx := context.Background()
	client, _ := newTestClient(t)

	tests := []struct {
		name    string
		setup   func() *Publisher
		res     *queues.MatchResult
		wantErr bool
	}{
		{
			name: "success",
			setup: func() *Publisher {
				topic, err := client.CreateTopic(ctx, "results")
				if err != nil {
					t.Fatalf("create topic: %#v", err)
				}
				return &Publisher{projectID: "test-project", topicName: "results", client: client, topic: topic}
			},
			res: &queues.MatchResult{EnvelopeVersion: "1.0", Type: "match-result", PlayerID: "p1", Status: queues.StatusMatched, Outcome: "10.0.0.1:7000"},
		},
		{
			name: "missing topic error",
			setup: func() *Publisher {
				return &Publisher{projectID: "test-project", topicName: "missing-topic", client: client, topic: client.Topic("missing-topic")}
			},
			res:     &queues.MatchResult{EnvelopeVersion: "1.0", Type: "match-result", PlayerID: "p2", Status: queues.StatusTimedOut, Outcome: queues.TimedOutMessage},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.setup()
			err := p.PublishResult(ctx, tt.res)
			gotErr := (err != nil)
			if gotErr != tt.wantErr {
				t.Errorf("PublishResult() error mismatch\ngotErr: %#v\nwantErr: %#v\nerr: %#v", gotErr, tt.wantErr, err)
			}
		})
	}
}

func TestPublisher_PublishSessionReady(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}
	ctx := context.Background()
	client, srv := newTestClient(t)
	topic, err := client.CreateTopic(ctx, "session-ready")
	require.NoError(t, err)

	p := &Publisher{projectID: "test-project", topicName: "session-ready", client: client, topic: topic}
	n := &queues.SessionReady{
		Command:         queues.CommandSessionReady,
		GUIDs:           []string{"p1", "p2", "p3", "p4"},
		ServerIPandPort: "10.0.0.1:7000",
	}
	require.NoError(t, p.PublishSessionReady(ctx, n))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "sessionReady", got["command"])
	assert.Equal(t, "10.0.0.1:7000", got["serverIPandPort"])
	assert.Equal(t, []any{"p1", "p2", "p3", "p4"}, got["guids"])
}

func TestPublisher_CloseWithoutClient(t *testing.T) {
	p := NewPublisher("test-project", "results", "")
	assert.NoError(t, p.Close())
}
