package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/aspis-finance/treasury/vault/pkg/audit"
)

// ListEvents returns the most recent audit events, newest first. Supports
// limit/offset pagination and an optional pool_id filter. Returns 503 when
// the server runs without an audit store.
func (a *API) ListEvents(w http.ResponseWriter, r *http.Request) {
	if a.audit == nil {
		a.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "audit log not configured"})
		return
	}

	params := ParsePagination(r, DefaultLimit)

	var poolID *string
	if raw := r.URL.Query().Get("pool_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid pool_id filter"})
			return
		}
		s := id.String()
		poolID = &s
	}

	records, err := a.audit.Recent(r.Context(), poolID, params.Limit, params.Offset)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	total, err := a.audit.Count(r.Context())
	if err != nil {
		a.writeErr(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusOK, PaginatedResponse[audit.Record]{
		Items:  records,
		Total:  int(total),
		Limit:  params.Limit,
		Offset: params.Offset,
	})
}
