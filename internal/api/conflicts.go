package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-timedata/internal/audit"
)

// handleListConflicts returns journaled field overrides, most recent first.
//
// Query parameters:
//   - field: filter by field name, e.g. ess0/Soc
//   - since: RFC3339 or Unix timestamp; entries at or after
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeServiceUnavailable(w, "conflict journal not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{EntityID: q.Get("field")}
	if len(filter.EntityID) > maxQueryParamLen {
		writeBadRequest(w, "field exceeds maximum length")
		return
	}

	if v := q.Get("since"); v != "" {
		since, err := parseTimeParam(v, s.loc)
		if err != nil {
			writeBadRequest(w, "invalid since timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.journal.Conflicts(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list conflicts", "error", err)
		writeInternalError(w, "failed to list conflicts")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
