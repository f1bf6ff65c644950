package servers

import (
	"context"
	"errors"
	"sync"
	"testing"

	agonesv1 "agones.dev/agones/pkg/apis/agones/v1"
	"agones.dev/agones/pkg/client/clientset/versioned/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

type mockPool struct {
	mu    sync.Mutex
	known map[string]string
	err   error
}

func (m *mockPool) RegisterServerIfNew(ctx context.Context, id, addr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.known == nil {
		m.known = map[string]string{}
	}
	if _, ok := m.known[id]; ok {
		return false, nil
	}
	m.known[id] = addr
	return true, nil
}

func gameServer(name, fleet string, state agonesv1.GameServerState, addr string, port int32) *agonesv1.GameServer {
	gs := &agonesv1.GameServer{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "games",
			UID:       types.UID("uid-" + name),
			Labels:    map[string]string{agonesv1.FleetNameLabel: fleet},
		},
		Status: agonesv1.GameServerStatus{State: state, Address: addr},
	}
	if port != 0 {
		gs.Status.Ports = []agonesv1.GameServerStatusPort{{Name: "default", Port: port}}
	}
	return gs
}

func TestFleetSync_Sync(t *testing.T) {
	tests := []struct {
		name      string
		objects   []*agonesv1.GameServer
		known     map[string]string
		poolErr   error
		wantAdded int
		wantPool  map[string]string
	}{
		{
			name: "ready servers of the fleet are pooled",
			objects: []*agonesv1.GameServer{
				gameServer("gs-1", "arena", agonesv1.GameServerStateReady, "10.0.0.1", 7000),
				gameServer("gs-2", "arena", agonesv1.GameServerStateReady, "10.0.0.2", 7001),
			},
			wantAdded: 2,
			wantPool:  map[string]string{"uid-gs-1": "10.0.0.1:7000", "uid-gs-2": "10.0.0.2:7001"},
		},
		{
			name: "other states and fleets are ignored",
			objects: []*agonesv1.GameServer{
				gameServer("gs-1", "arena", agonesv1.GameServerStateAllocated, "10.0.0.1", 7000),
				gameServer("gs-2", "arena", agonesv1.GameServerStateScheduled, "10.0.0.2", 7000),
				gameServer("gs-3", "lobby", agonesv1.GameServerStateReady, "10.0.0.3", 7000),
				gameServer("gs-4", "arena", agonesv1.GameServerStateReady, "10.0.0.4", 7000),
			},
			wantAdded: 1,
			wantPool:  map[string]string{"uid-gs-4": "10.0.0.4:7000"},
		},
		{
			name: "servers without address or port are skipped",
			objects: []*agonesv1.GameServer{
				gameServer("gs-1", "arena", agonesv1.GameServerStateReady, "", 7000),
				gameServer("gs-2", "arena", agonesv1.GameServerStateReady, "10.0.0.2", 0),
			},
			wantAdded: 0,
		},
		{
			name: "already known servers are not re-pooled",
			objects: []*agonesv1.GameServer{
				gameServer("gs-1", "arena", agonesv1.GameServerStateReady, "10.0.0.1", 7000),
			},
			known:     map[string]string{"uid-gs-1": "10.0.0.1:7000"},
			wantAdded: 0,
			wantPool:  map[string]string{"uid-gs-1": "10.0.0.1:7000"},
		},
		{
			name: "store errors skip the server",
			objects: []*agonesv1.GameServer{
				gameServer("gs-1", "arena", agonesv1.GameServerStateReady, "10.0.0.1", 7000),
			},
			poolErr:   errors.New("redis down"),
			wantAdded: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := fake.NewSimpleClientset()
			for _, gs := range tt.objects {
				_, err := cs.AgonesV1().GameServers("games").Create(context.Background(), gs, metav1.CreateOptions{})
				require.NoError(t, err)
			}
			pool := &mockPool{known: tt.known, err: tt.poolErr}
			fs := NewFleetSync(pool, "arena", "games")
			fs.agones = cs

			added, err := fs.Sync(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantAdded, added)
			if tt.wantPool == nil {
				assert.Empty(t, pool.known)
				return
			}
			assert.Equal(t, tt.wantPool, pool.known)
		})
	}
}

func TestNewFleetSync_DefaultNamespace(t *testing.T) {
	fs := NewFleetSync(&mockPool{}, "arena", "")
	assert.Equal(t, "default", fs.namespace)
}
