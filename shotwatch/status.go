package shotwatch

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/listingwatch/observability"
	"github.com/hazyhaar/listingwatch/shield"
	"github.com/hazyhaar/listingwatch/shotwatch/internal/history"
)

// eventReader is implemented by event logs that can list past cycles.
type eventReader interface {
	Recent(ctx context.Context, limit int) ([]observability.CycleEvent, error)
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

// statsResponse is the /stats body: live counters plus, when the event log
// is enabled, the all-time totals it holds.
type statsResponse struct {
	Stats
	EventTotals map[string]int64 `json:"event_totals,omitempty"`
}

// Handler returns the read-only status API:
//
//	GET /healthz          liveness
//	GET /stats            cycle counters, loop state, notifier and event totals
//	GET /captures         retained captures, oldest first
//	GET /captures/latest  newest capture as PNG
//	GET /events           recent cycle events (when the event log is enabled)
func (w *Watcher) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(w.logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(rw http.ResponseWriter, req *http.Request) {
		resp := statsResponse{Stats: w.Stats()}
		if er, ok := w.events.(eventReader); ok {
			totals, err := er.CountByOutcome(req.Context())
			if err != nil {
				shield.GetLogger(req.Context()).Warn("shotwatch: count events", "error", err)
			} else {
				resp.EventTotals = totals
			}
		}
		writeJSON(rw, http.StatusOK, resp)
	})

	r.Route("/captures", func(r chi.Router) {
		r.Get("/", func(rw http.ResponseWriter, _ *http.Request) {
			list := w.history.List()
			if list == nil {
				list = []history.Entry{}
			}
			writeJSON(rw, http.StatusOK, list)
		})
		r.Get("/latest", func(rw http.ResponseWriter, req *http.Request) {
			e, ok := w.history.Latest()
			if !ok {
				writeJSON(rw, http.StatusNotFound, map[string]string{"error": "no capture yet"})
				return
			}
			rw.Header().Set("Content-Type", "image/png")
			http.ServeFile(rw, req, e.Path)
		})
	})

	r.Get("/events", func(rw http.ResponseWriter, req *http.Request) {
		er, ok := w.events.(eventReader)
		if !ok {
			writeJSON(rw, http.StatusNotFound, map[string]string{"error": "event log disabled"})
			return
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		evs, err := er.Recent(req.Context(), limit)
		if err != nil {
			shield.GetLogger(req.Context()).Error("shotwatch: list events", "error", err)
			writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		if evs == nil {
			evs = []observability.CycleEvent{}
		}
		writeJSON(rw, http.StatusOK, evs)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
