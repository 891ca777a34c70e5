package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/stats"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type statsResponse struct {
	stats.Snapshot
	Total       int64   `json:"total"`
	SuccessRate float64 `json:"success_rate"`
	Degraded    bool    `json:"degraded"`
}

type eventsResponse struct {
	Events []events.AccessEvent `json:"events"`
	Count  int                  `json:"count"`
}

type trainingsResponse struct {
	Sessions []events.TrainingSessionRecord `json:"sessions"`
	Count    int                            `json:"count"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: code, Message: message})
}

// respondQueryError maps store errors to HTTP statuses.
func respondQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, events.ErrInvalidFilter):
		respondError(w, http.StatusBadRequest, "invalid_filter", err.Error())
	case errors.Is(err, events.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "event store unavailable")
	default:
		logging.Component("httpapi").WithError(err).Error("Query failed")
		respondError(w, http.StatusInternalServerError, "internal", "query failed")
	}
}

// parseLimit reads ?limit=, defaulting to defaultLimit and capping at maxLimit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

// parseFilter reads the identity, granted, type and since query parameters.
func parseFilter(r *http.Request) (events.Filter, error) {
	q := r.URL.Query()
	var f events.Filter

	if v := q.Get("identity"); v != "" {
		f.Identity = &v
	}
	if v := q.Get("granted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("granted must be true or false")
		}
		f.Granted = &b
	}
	if v := q.Get("type"); v != "" {
		et := events.EventType(v)
		if !et.Valid() {
			return f, errors.New("unknown event type " + strconv.Quote(v))
		}
		f.EventType = &et
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = &ts
	}
	return f, nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	snap, degraded := s.q.SnapshotOrZero(r.Context())
	respondJSON(w, http.StatusOK, statsResponse{
		Snapshot:    snap,
		Total:       snap.Total(),
		SuccessRate: snap.SuccessRate(),
		Degraded:    degraded,
	})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	evs, err := s.q.History(r.Context(), f, limit)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, eventsResponse{Events: evs, Count: len(evs)})
}

func (s *Server) person(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}

	ps, err := s.q.Person(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	if ps.Attempts == 0 {
		respondError(w, http.StatusNotFound, "not_found", "no events for "+ps.Identity)
		return
	}
	respondJSON(w, http.StatusOK, ps)
}

func (s *Server) trainings(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}

	recs, err := s.q.Trainings(r.Context(), limit)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, trainingsResponse{Sessions: recs, Count: len(recs)})
}
