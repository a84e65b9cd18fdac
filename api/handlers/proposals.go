package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aspis-finance/treasury/api/metrics"
	"github.com/aspis-finance/treasury/vault/pkg/vault"
)

func (a *API) proposalIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "proposalID"))
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid proposal id"})
		return uuid.Nil, false
	}
	return id, true
}

// ListProposals returns all proposals for a pool, live and executed.
func (a *API) ListProposals(w http.ResponseWriter, r *http.Request) {
	poolID, ok := a.poolIDParam(w, r)
	if !ok {
		return
	}
	proposals, err := a.treasury.Proposals(poolID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, proposals)
}

// GetProposal returns a single proposal snapshot.
func (a *API) GetProposal(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.poolIDParam(w, r); !ok {
		return
	}
	id, ok := a.proposalIDParam(w, r)
	if !ok {
		return
	}
	proposal, err := a.treasury.ProposalByID(id)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, proposal)
}

type createProposalRequest struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// CreateProposal opens a withdrawal proposal against a pool. Requires the
// manager role.
func (a *API) CreateProposal(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorFromRequest(w, r)
	if !ok {
		return
	}
	poolID, ok := a.poolIDParam(w, r)
	if !ok {
		return
	}
	var req createProposalRequest
	if !a.decode(w, r, &req) {
		return
	}
	proposal, err := a.treasury.CreateProposal(r.Context(), actor, poolID, vault.Address(req.Recipient), req.Amount)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	metrics.ProposalsCreatedTotal.Inc()
	a.writeJSON(w, http.StatusCreated, proposal)
}

type voteRequest struct {
	TokenID uuid.UUID `json:"token_id"`
}

// Vote casts a share token's vote on a proposal.
func (a *API) Vote(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorFromRequest(w, r)
	if !ok {
		return
	}
	poolID, ok := a.poolIDParam(w, r)
	if !ok {
		return
	}
	proposalID, ok := a.proposalIDParam(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.treasury.Vote(r.Context(), actor, poolID, proposalID, req.TokenID); err != nil {
		a.writeErr(w, r, err)
		return
	}
	metrics.VotesCastTotal.Inc()
	proposal, err := a.treasury.ProposalByID(proposalID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, proposal)
}

type executeResponse struct {
	Amount uint64 `json:"amount"`
}

// ExecuteProposal pays out a proposal that has reached quorum. Requires the
// manager role.
func (a *API) ExecuteProposal(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorFromRequest(w, r)
	if !ok {
		return
	}
	poolID, ok := a.poolIDParam(w, r)
	if !ok {
		return
	}
	proposalID, ok := a.proposalIDParam(w, r)
	if !ok {
		return
	}
	amount, err := a.treasury.ExecuteProposal(r.Context(), actor, poolID, proposalID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	metrics.ProposalsExecutedTotal.Inc()
	a.recordPoolGauges(poolID)
	a.writeJSON(w, http.StatusOK, executeResponse{Amount: amount})
}

type annotateRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AnnotateProposal attaches a metadata entry to a proposal. Allowed for the
// proposer or any manager.
func (a *API) AnnotateProposal(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorFromRequest(w, r)
	if !ok {
		return
	}
	poolID, ok := a.poolIDParam(w, r)
	if !ok {
		return
	}
	proposalID, ok := a.proposalIDParam(w, r)
	if !ok {
		return
	}
	var req annotateRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.treasury.AnnotateProposal(r.Context(), actor, poolID, proposalID, req.Key, req.Value); err != nil {
		a.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
