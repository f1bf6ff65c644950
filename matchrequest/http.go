package matchrequest

import (
	"encoding/json"
	"net/http"
)

// Register exposes the status of match requests held by this replica.
func Register(mux *http.ServeMux, g *Registry) {
	mux.HandleFunc("GET /match/{guid}", func(w http.ResponseWriter, r *http.Request) {
		req, ok := g.Get(r.PathValue("guid"))
		if !ok {
			http.Error(w, "no match request", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(req.Status())
	})
}
