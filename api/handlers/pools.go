package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aspis-finance/treasury/api/metrics"
	"github.com/aspis-finance/treasury/vault/pkg/vault"
)

func (a *API) poolIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "poolID"))
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid pool id"})
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) actorFromRequest(w http.ResponseWriter, r *http.Request) (vault.Address, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		// The auth middleware should have set this; treat its absence as a
		// server misconfiguration rather than a client error.
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "no authenticated actor"})
		return "", false
	}
	return actor, true
}

// ListPools returns snapshots of every pool.
func (a *API) ListPools(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.treasury.Pools())
}

// GetPool returns a single pool snapshot.
func (a *API) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := a.poolIDParam(w, r)
	if !ok {
		return
	}
	pool, err := a.treasury.Pool(id)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, pool)
}

type createPoolRequest struct {
	RequiredVotes uint64 `json:"required_votes"`
	SeedBalance   uint64 `json:"seed_balance"`
}

// CreatePool creates a new pool with the caller as its first manager and
// pauser.
func (a *API) CreatePool(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorFromRequest(w, r)
	if !ok {
		return
	}
	var req createPoolRequest
	if !a.decode(w, r, &req) {
		return
	}
	pool, err := a.treasury.CreatePool(r.Context(), actor, req.RequiredVotes, req.SeedBalance)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	metrics.RecordPool(pool.ID.String(), pool.Balance, pool.ShareSupply)
	a.writeJSON(w, http.StatusCreated, pool)
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

// Deposit adds funds to a pool and mints a share token for the caller.
func (a *API) Deposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorFromRequest(w, r)
	if !ok {
		return
	}
	poolID, ok := a.poolIDParam(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !a.decode(w, r, &req) {
		return
	}
	token, err := a.treasury.Deposit(r.Context(), actor, poolID, req.Amount)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	metrics.DepositsTotal.Inc()
	a.recordPoolGauges(poolID)
	a.writeJSON(w, http.StatusCreated, token)
}

type withdrawRequest struct {
	TokenID uuid.UUID `json:"token_id"`
}

type withdrawResponse struct {
	Amount uint64 `json:"amount"`
}

// Withdraw redeems a share token for the caller's proportional slice of the
// pool balance.
func (a *API) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorFromRequest(w, r)
	if !ok {
		return
	}
	poolID, ok := a.poolIDParam(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !a.decode(w, r, &req) {
		return
	}
	amount, err := a.treasury.Withdraw(r.Context(), actor, poolID, req.TokenID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	metrics.WithdrawalsTotal.Inc()
	a.recordPoolGauges(poolID)
	a.writeJSON(w, http.StatusOK, withdrawResponse{Amount: amount})
}

type transferRequest struct {
	TokenID uuid.UUID `json:"token_id"`
	To      string    `json:"to"`
}

// TransferShareToken reassigns ownership of a share token.
func (a *API) TransferShareToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorFromRequest(w, r)
	if !ok {
		return
	}
	if _, ok := a.poolIDParam(w, r); !ok {
		return
	}
	var req transferRequest
	if !a.decode(w, r, &req) {
		return
	}
	to, err := vault.ParseAddress(req.To)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid recipient: " + err.Error()})
		return
	}
	if err := a.treasury.TransferShareToken(r.Context(), actor, req.TokenID, to); err != nil {
		a.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TogglePause flips the pool's paused flag. Requires the pauser role.
func (a *API) TogglePause(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorFromRequest(w, r)
	if !ok {
		return
	}
	poolID, ok := a.poolIDParam(w, r)
	if !ok {
		return
	}
	if err := a.treasury.TogglePause(r.Context(), actor, poolID); err != nil {
		a.writeErr(w, r, err)
		return
	}
	pool, err := a.treasury.Pool(poolID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, pool)
}

type grantRoleRequest struct {
	Role    string `json:"role"`
	Grantee string `json:"grantee"`
}

// GrantRole grants a role on a pool to another address. Requires the manager
// role.
func (a *API) GrantRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorFromRequest(w, r)
	if !ok {
		return
	}
	poolID, ok := a.poolIDParam(w, r)
	if !ok {
		return
	}
	var req grantRoleRequest
	if !a.decode(w, r, &req) {
		return
	}
	role, err := vault.ParseRole(req.Role)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	grantee, err := vault.ParseAddress(req.Grantee)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid grantee: " + err.Error()})
		return
	}
	if err := a.treasury.GrantRole(r.Context(), actor, poolID, role, grantee); err != nil {
		a.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) recordPoolGauges(poolID uuid.UUID) {
	pool, err := a.treasury.Pool(poolID)
	if err != nil {
		return
	}
	metrics.RecordPool(pool.ID.String(), pool.Balance, pool.ShareSupply)
}
