package servers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"redis-pubsub-matchmaker/queues"

	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

type Registrar interface {
	RegisterServer(ctx context.Context, id, addr string) error
}

// Register mounts the server registration command at POST /servers.
func Register(mux *http.ServeMux, r Registrar) {
	mux.HandleFunc("POST /servers", func(w http.ResponseWriter, req *http.Request) {
		var cmd queues.ServerRegistration
		if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&cmd); err != nil {
			log.Warn().Err(err).Msg("servers: invalid registration body")
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(cmd.Command) == "" {
			http.Error(w, "Please pass a command in the request body.", http.StatusBadRequest)
			return
		}
		if cmd.Command == queues.CommandAddServer {
			added, err := addServers(req.Context(), r, cmd.Servers)
			if err != nil {
				http.Error(w, "failed to register servers", http.StatusInternalServerError)
				return
			}
			log.Info().Int("added", added).Int("received", len(cmd.Servers)).Msg("servers: registration processed")
		} else {
			log.Warn().Str("command", cmd.Command).Msg("servers: unknown command ignored")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Command: %s", cmd.Command)
	})
}

func addServers(ctx context.Context, r Registrar, entries []queues.ServerEntry) (int, error) {
	added := 0
	for _, s := range entries {
		id, addr := strings.TrimSpace(s.ServerGUID), strings.TrimSpace(s.ServerIPandPort)
		if id == "" || addr == "" {
			log.Warn().Str("serverId", id).Str("serverIPandPort", addr).Msg("servers: skipping incomplete entry")
			continue
		}
		if err := r.RegisterServer(ctx, id, addr); err != nil {
			log.Error().Err(err).Str("serverId", id).Msg("servers: failed to register server")
			return added, err
		}
		log.Debug().Str("serverId", id).Str("serverIPandPort", addr).Msg("servers: server added to the pool")
		added++
	}
	return added, nil
}
