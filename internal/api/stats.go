package api

import (
	"errors"
	"net/http"

	"github.com/onyria/onyria/internal/observe"
	"github.com/onyria/onyria/internal/stats"
)

func queryOf(r *http.Request) stats.Query {
	v := r.URL.Query()
	return stats.Query{
		Period: stats.Period(v.Get("period")),
		Start:  v.Get("start"),
		End:    v.Get("end"),
	}
}

func (s *Server) profileStats(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Stats.Profile(r.Context(), userID(r))
	if err != nil {
		observe.Logger(r.Context()).Error("api: profile stats", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Stats.Dashboard(r.Context(), userID(r), queryOf(r))
	if err != nil {
		if errors.Is(err, stats.ErrInvalidRange) {
			writeErrorMessage(w, http.StatusBadRequest, codeInvalidRange, err.Error())
			return
		}
		observe.Logger(r.Context()).Error("api: dashboard", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
