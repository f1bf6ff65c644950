package matchrequest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"redis-pubsub-matchmaker/queues"

	"github.com/stretchr/testify/assert"
)

type mockDeliverer struct {
	mu        sync.Mutex
	delivered map[string]string
	errs      map[string]error
}

func (m *mockDeliverer) Deliver(playerID, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[playerID]; ok {
		return err
	}
	if m.delivered == nil {
		m.delivered = map[string]string{}
	}
	m.delivered[playerID] = addr
	return nil
}

func TestFanout_HandleBatch(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name          string
		msgs          []*queues.Message
		errs          map[string]error
		wantDelivered map[string]string
		wantFailed    []string
		wantDropped   int
	}{
		{
			name: "all players delivered",
			msgs: []*queues.Message{
				{ID: "m1", Data: []byte(`{"command":"sessionReady","guids":["p1","p2"],"serverIPandPort":"10.0.0.1:7000"}`)},
			},
			wantDelivered: map[string]string{"p1": "10.0.0.1:7000", "p2": "10.0.0.1:7000"},
		},
		{
			name: "players on other replicas are not failures",
			msgs: []*queues.Message{
				{ID: "m1", Data: []byte(`{"command":"sessionReady","guids":["p1","p2"],"serverIPandPort":"10.0.0.1:7000"}`)},
			},
			errs:          map[string]error{"p1": ErrNoRequest},
			wantDelivered: map[string]string{"p2": "10.0.0.1:7000"},
		},
		{
			name: "one player failing does not block the others",
			msgs: []*queues.Message{
				{ID: "m1", Data: []byte(`{"command":"sessionReady","guids":["p1","p2","p3"],"serverIPandPort":"10.0.0.1:7000"}`)},
				{ID: "m2", Data: []byte(`{"command":"sessionReady","guids":["p4"],"serverIPandPort":"10.0.0.2:7000"}`)},
			},
			errs:          map[string]error{"p2": boom},
			wantDelivered: map[string]string{"p1": "10.0.0.1:7000", "p3": "10.0.0.1:7000", "p4": "10.0.0.2:7000"},
			wantFailed:    []string{"m1"},
		},
		{
			name: "malformed notifications are dropped",
			msgs: []*queues.Message{
				{ID: "m1", Data: []byte(`not json`)},
				{ID: "m2", Data: []byte(`{"command":"addServer","guids":["p1"],"serverIPandPort":"10.0.0.1:7000"}`)},
				{ID: "m3", Data: []byte(`{"command":"sessionReady","guids":["p1"]}`)},
			},
			wantDelivered: map[string]string{},
			wantDropped:   3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDeliverer{errs: tt.errs, delivered: map[string]string{}}
			res := NewFanout(d).HandleBatch(context.Background(), tt.msgs)

			assert.Equal(t, tt.wantDelivered, d.delivered)
			assert.Len(t, res.Dropped, tt.wantDropped)
			var failed []string
			for _, f := range res.Failed {
				failed = append(failed, f.MessageID)
			}
			assert.Equal(t, tt.wantFailed, failed)
			if len(tt.wantFailed) > 0 {
				assert.ErrorIs(t, res.Err(), boom)
			} else {
				assert.NoError(t, res.Err())
			}
		})
	}
}

func TestFanout_ResolvesRegistryRequests(t *testing.T) {
	g := NewRegistry(context.Background(), &mockCleaner{}, time.Minute)
	p1, _ := g.Start("p1")
	p2, _ := g.Start("p2")

	res := NewFanout(g).HandleBatch(context.Background(), []*queues.Message{
		{ID: "m1", Data: []byte(`{"command":"sessionReady","guids":["p1","p2","elsewhere"],"serverIPandPort":"10.0.0.1:7000"}`)},
	})
	assert.NoError(t, res.Err())
	assert.Equal(t, "10.0.0.1:7000", waitOutcome(t, p1))
	assert.Equal(t, "10.0.0.1:7000", waitOutcome(t, p2))
}
