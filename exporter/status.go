package exporter

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/scrollback/exporter/internal/shield"
	"github.com/hazyhaar/scrollback/exporter/internal/store"
)

// StatusHandler serves a read-only view of the exporter:
//
//	GET /health
//	GET /status                 current phase, session and progress
//	GET /sessions?limit=N       export history (needs a store)
//	GET /sessions/{id}          one stored session
func StatusHandler(t *Tracker, st *store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(shield.SecurityHeaders(shield.StatusHeaders()), shield.GetOnly, shield.HeadToGet)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, t.Snapshot())
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if st == nil {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
					return
				}
				next.ServeHTTP(w, req)
			})
		})
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			rows, err := st.RecentSessions(req.Context(), limit)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if rows == nil {
				rows = []*store.SessionRow{}
			}
			writeJSON(w, http.StatusOK, rows)
		})
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			row, err := st.GetSession(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if row == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
				return
			}
			writeJSON(w, http.StatusOK, row)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
