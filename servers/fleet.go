package servers

import (
	"context"
	"fmt"

	agonesv1 "agones.dev/agones/pkg/apis/agones/v1"
	agonesclientset "agones.dev/agones/pkg/client/clientset/versioned"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

type PoolRegistrar interface {
	RegisterServerIfNew(ctx context.Context, id, addr string) (bool, error)
}

// FleetSync offers the Ready GameServers of an Agones fleet to the server
// pool. A GameServer is pooled once; after it has been handed to a session
// later syncs leave it alone.
type FleetSync struct {
	store     PoolRegistrar
	fleet     string
	namespace string
	agones    agonesclientset.Interface
}

func NewFleetSync(s PoolRegistrar, fleet, namespace string) *FleetSync {
	if namespace == "" {
		namespace = "default"
	}
	return &FleetSync{store: s, fleet: fleet, namespace: namespace}
}

// Sync registers every Ready GameServer of the fleet not yet known to the
// pool and returns how many were added.
func (f *FleetSync) Sync(ctx context.Context) (int, error) {
	// Lazy init Agones client
	if f.agones == nil {
		cli, err := newAgonesClient()
		if err != nil {
			log.Error().Err(err).Msg("fleetsync: failed to initialize Agones client")
			return 0, eris.Wrap(err, "init agones client")
		}
		f.agones = cli
		log.Info().Msg("fleetsync: Agones client initialized")
	}

	selector := labels.SelectorFromSet(labels.Set{agonesv1.FleetNameLabel: f.fleet}).String()
	list, err := f.agones.AgonesV1().GameServers(f.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		log.Error().Err(err).Str("namespace", f.namespace).Str("fleet", f.fleet).Msg("fleetsync: GameServer list failed")
		return 0, eris.Wrapf(err, "list gameservers of fleet %s", f.fleet)
	}

	added := 0
	for i := range list.Items {
		gs := &list.Items[i]
		if gs.Status.State != agonesv1.GameServerStateReady {
			continue
		}
		addr := gs.Status.Address
		if addr == "" || len(gs.Status.Ports) == 0 || gs.Status.Ports[0].Port == 0 {
			log.Warn().Str("gameServerName", gs.Name).Msg("fleetsync: ready GameServer missing address/port")
			continue
		}
		id := string(gs.UID)
		if id == "" {
			id = gs.Name
		}
		raw := fmt.Sprintf("%s:%d", addr, gs.Status.Ports[0].Port)
		ok, err := f.store.RegisterServerIfNew(ctx, id, raw)
		if err != nil {
			log.Error().Err(err).Str("gameServerName", gs.Name).Msg("fleetsync: failed to register GameServer")
			continue
		}
		if ok {
			added++
			log.Info().Str("gameServerName", gs.Name).Str("serverId", id).Str("serverIPandPort", raw).Msg("fleetsync: GameServer added to the pool")
		}
	}
	log.Debug().Str("fleet", f.fleet).Int("gameServers", len(list.Items)).Int("added", added).Msg("fleetsync: sync finished")
	return added, nil
}

// newAgonesClient returns an Agones typed clientset using in-cluster config or local kubeconfig.
func newAgonesClient() (agonesclientset.Interface, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return agonesclientset.NewForConfig(cfg)
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
	cfg, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, err
	}
	return agonesclientset.NewForConfig(cfg)
}
