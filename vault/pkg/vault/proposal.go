package vault

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateProposal opens a withdrawal proposal against the pool. Requires the
// manager role. The requested amount is checked against the pool balance at
// creation time and checked again at execution, since the balance can move
// in between.
func (t *Treasury) CreateProposal(ctx context.Context, actor Address, poolID uuid.UUID, recipient Address, amount uint64) (Proposal, error) {
	if _, err := ParseAddress(string(recipient)); err != nil {
		return Proposal{}, fmt.Errorf("%v: %w", err, ErrInvalidRecipient)
	}
	if amount == 0 {
		return Proposal{}, fmt.Errorf("proposal amount must be positive: %w", ErrInvalidAmount)
	}
	p, err := t.poolByID(poolID)
	if err != nil {
		return Proposal{}, err
	}

	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return Proposal{}, fmt.Errorf("pool %s: %w", poolID, ErrPaused)
	}
	if !p.hasRole(RoleManager, actor) {
		p.mu.Unlock()
		return Proposal{}, fmt.Errorf("%s is not a manager of pool %s: %w", actor, poolID, ErrNotAllowed)
	}
	if amount > p.balance {
		p.mu.Unlock()
		return Proposal{}, fmt.Errorf("proposal amount %d exceeds pool balance %d: %w", amount, p.balance, ErrInsufficientBalance)
	}
	ps := &proposalState{
		id:        uuid.New(),
		poolID:    poolID,
		proposer:  actor,
		recipient: recipient,
		amount:    amount,
		voters:    make(map[uuid.UUID]struct{}),
		metadata:  make(map[string]string),
		createdAt: t.clock.Now(),
	}
	snap := ps.snapshot()
	p.mu.Unlock()

	t.mu.Lock()
	t.proposals[ps.id] = ps
	t.mu.Unlock()

	t.log.Info("vault: proposal created", "pool", poolID, "proposal", ps.id, "recipient", recipient, "amount", amount, "proposer", actor)
	t.sink.Emit(ctx, Event{
		Kind:       EventProposalCreated,
		PoolID:     poolID,
		Actor:      actor,
		Amount:     amount,
		ProposalID: &ps.id,
		Recipient:  recipient,
		At:         ps.createdAt,
	})
	return snap, nil
}

// Vote records approval of a proposal by the holder of a share token. Each
// share token counts once per proposal; voting does not consume the token.
// Votes are allowed while the pool is paused: the pause gate covers fund
// movement, not tallying.
func (t *Treasury) Vote(ctx context.Context, actor Address, poolID, proposalID, tokenID uuid.UUID) error {
	p, err := t.poolByID(poolID)
	if err != nil {
		return err
	}
	t.mu.RLock()
	ps, okP := t.proposals[proposalID]
	tok, okT := t.tokens[tokenID]
	t.mu.RUnlock()
	if !okP {
		return fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	if !okT {
		return fmt.Errorf("share token %s: %w", tokenID, ErrNotFound)
	}
	if ps.poolID != poolID {
		return fmt.Errorf("proposal %s targets pool %s: %w", proposalID, ps.poolID, ErrInvalidProposal)
	}
	if tok.poolID != poolID {
		return fmt.Errorf("share token %s was minted from pool %s: %w", tokenID, tok.poolID, ErrWrongPool)
	}

	p.mu.Lock()
	if tok.consumed {
		p.mu.Unlock()
		return fmt.Errorf("share token %s already redeemed: %w", tokenID, ErrNotFound)
	}
	if tok.owner != actor {
		p.mu.Unlock()
		return fmt.Errorf("share token %s is not held by %s: %w", tokenID, actor, ErrNotAllowed)
	}
	if ps.executed {
		p.mu.Unlock()
		return fmt.Errorf("proposal %s already executed: %w", proposalID, ErrInvalidProposal)
	}
	if _, dup := ps.voters[tokenID]; dup {
		p.mu.Unlock()
		return fmt.Errorf("share token %s on proposal %s: %w", tokenID, proposalID, ErrAlreadyVoted)
	}
	ps.voters[tokenID] = struct{}{}
	votes := uint64(len(ps.voters))
	now := t.clock.Now()
	p.mu.Unlock()

	t.log.Debug("vault: vote cast", "pool", poolID, "proposal", proposalID, "token", tokenID, "votes", votes)
	t.sink.Emit(ctx, Event{
		Kind:       EventVoteCast,
		PoolID:     poolID,
		Actor:      actor,
		TokenID:    &tokenID,
		ProposalID: &proposalID,
		At:         now,
	})
	return nil
}

// ExecuteProposal releases the proposed amount to the proposal's recipient
// once quorum is reached. Quorum is a raw count: the number of distinct share
// tokens that voted must reach the pool's required votes. Execution reduces
// the pool balance but not the share supply; the withdrawal spends pool
// assets on behalf of all holders collectively, diluting every share equally.
// An executed proposal cannot be executed again.
func (t *Treasury) ExecuteProposal(ctx context.Context, actor Address, poolID, proposalID uuid.UUID) (uint64, error) {
	p, err := t.poolByID(poolID)
	if err != nil {
		return 0, err
	}
	t.mu.RLock()
	ps, ok := t.proposals[proposalID]
	t.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	if ps.poolID != poolID {
		return 0, fmt.Errorf("proposal %s targets pool %s: %w", proposalID, ps.poolID, ErrInvalidProposal)
	}

	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return 0, fmt.Errorf("pool %s: %w", poolID, ErrPaused)
	}
	if !p.hasRole(RoleManager, actor) {
		p.mu.Unlock()
		return 0, fmt.Errorf("%s is not a manager of pool %s: %w", actor, poolID, ErrNotAllowed)
	}
	if ps.executed {
		p.mu.Unlock()
		return 0, fmt.Errorf("proposal %s already executed: %w", proposalID, ErrInvalidProposal)
	}
	if uint64(len(ps.voters)) < p.requiredVotes {
		p.mu.Unlock()
		return 0, fmt.Errorf("proposal %s has %d of %d required votes: %w", proposalID, len(ps.voters), p.requiredVotes, ErrNotEnoughVotes)
	}
	if ps.amount > p.balance {
		p.mu.Unlock()
		return 0, fmt.Errorf("proposal amount %d exceeds pool balance %d: %w", ps.amount, p.balance, ErrInsufficientBalance)
	}
	p.balance -= ps.amount
	ps.executed = true
	ps.executedAt = t.clock.Now()
	now := ps.executedAt
	p.mu.Unlock()

	t.log.Info("vault: proposal executed", "pool", poolID, "proposal", proposalID, "recipient", ps.recipient, "amount", ps.amount, "by", actor)
	t.sink.Emit(ctx, Event{
		Kind:       EventProposalExecuted,
		PoolID:     poolID,
		Actor:      actor,
		Amount:     ps.amount,
		ProposalID: &proposalID,
		Recipient:  ps.recipient,
		At:         now,
	})
	return ps.amount, nil
}

// AnnotateProposal sets a free-form metadata key on a proposal. Metadata is
// never consulted by quorum logic. Only the proposer or a pool manager may
// annotate.
func (t *Treasury) AnnotateProposal(ctx context.Context, actor Address, poolID, proposalID uuid.UUID, key, value string) error {
	if key == "" {
		return fmt.Errorf("empty metadata key")
	}
	p, err := t.poolByID(poolID)
	if err != nil {
		return err
	}
	t.mu.RLock()
	ps, ok := t.proposals[proposalID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	if ps.poolID != poolID {
		return fmt.Errorf("proposal %s targets pool %s: %w", proposalID, ps.poolID, ErrInvalidProposal)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if actor != ps.proposer && !p.hasRole(RoleManager, actor) {
		return fmt.Errorf("%s may not annotate proposal %s: %w", actor, proposalID, ErrNotAllowed)
	}
	ps.metadata[key] = value
	return nil
}
