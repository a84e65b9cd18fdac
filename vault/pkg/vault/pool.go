package vault

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/google/uuid"
)

// CreatePool creates a new pool with zero share supply and an optional seed
// balance, and registers the creator as both manager and pauser. The quorum
// parameter is immutable for the pool's lifetime.
func (t *Treasury) CreatePool(ctx context.Context, actor Address, requiredVotes, seedBalance uint64) (Pool, error) {
	if requiredVotes == 0 {
		return Pool{}, fmt.Errorf("required votes must be at least 1: %w", ErrInvalidAmount)
	}
	if actor.IsZero() {
		return Pool{}, fmt.Errorf("missing creator address: %w", ErrNotAllowed)
	}

	p := &poolState{
		id:            uuid.New(),
		balance:       seedBalance,
		requiredVotes: requiredVotes,
		createdAt:     t.clock.Now(),
		roles:         make(map[Role]map[Address]struct{}),
	}
	p.grantRole(RoleManager, actor)
	p.grantRole(RolePauser, actor)

	t.mu.Lock()
	t.pools[p.id] = p
	t.mu.Unlock()

	t.log.Info("vault: pool created", "pool", p.id, "required_votes", requiredVotes, "seed_balance", seedBalance, "creator", actor)
	t.sink.Emit(ctx, Event{
		Kind:   EventPoolCreated,
		PoolID: p.id,
		Actor:  actor,
		Amount: seedBalance,
		At:     p.createdAt,
	})
	return p.snapshot(), nil
}

// mulDiv computes floor(a*b/d) in 128-bit intermediate precision. The second
// return is false when the quotient does not fit in a uint64.
func mulDiv(a, b, d uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, true
}

// Deposit adds amount to the pool balance and mints a share token for the
// depositor. The first deposit into a zero-supply pool mints shares 1:1 with
// the payment; afterwards shares = floor(amount * supply / balance), where
// balance is the pool balance before the payment is added.
func (t *Treasury) Deposit(ctx context.Context, actor Address, poolID uuid.UUID, amount uint64) (ShareToken, error) {
	if amount == 0 {
		return ShareToken{}, fmt.Errorf("deposit amount must be positive: %w", ErrInvalidAmount)
	}
	p, err := t.poolByID(poolID)
	if err != nil {
		return ShareToken{}, err
	}

	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return ShareToken{}, fmt.Errorf("pool %s: %w", poolID, ErrPaused)
	}
	shares := amount
	if p.shareSupply > 0 {
		if p.balance == 0 {
			// Outstanding shares against a drained pool: the share price is
			// zero and minting is undefined. Refuse rather than divide by zero.
			p.mu.Unlock()
			return ShareToken{}, fmt.Errorf("pool %s has outstanding shares but no balance: %w", poolID, ErrInsufficientBalance)
		}
		var ok bool
		shares, ok = mulDiv(amount, p.shareSupply, p.balance)
		if !ok {
			p.mu.Unlock()
			return ShareToken{}, fmt.Errorf("share computation overflows: %w", ErrInvalidAmount)
		}
		if shares == 0 {
			// The payment is too small to mint a single share at the current
			// share price. Reject instead of minting a worthless token.
			p.mu.Unlock()
			return ShareToken{}, fmt.Errorf("deposit too small to mint shares: %w", ErrInvalidAmount)
		}
	}
	p.balance += amount
	p.shareSupply += shares
	tok := &tokenState{
		id:        uuid.New(),
		poolID:    poolID,
		amount:    shares,
		owner:     actor,
		createdAt: t.clock.Now(),
	}
	p.mu.Unlock()

	t.mu.Lock()
	t.tokens[tok.id] = tok
	t.mu.Unlock()

	t.log.Debug("vault: deposit", "pool", poolID, "actor", actor, "amount", amount, "shares", shares, "token", tok.id)
	t.sink.Emit(ctx, Event{
		Kind:    EventDeposit,
		PoolID:  poolID,
		Actor:   actor,
		Amount:  amount,
		TokenID: &tok.id,
		At:      tok.createdAt,
	})
	return tok.snapshot(), nil
}

// Withdraw redeems a share token for its proportional slice of the pool
// balance and destroys the token. Returns the redeemed amount.
func (t *Treasury) Withdraw(ctx context.Context, actor Address, poolID, tokenID uuid.UUID) (uint64, error) {
	p, err := t.poolByID(poolID)
	if err != nil {
		return 0, err
	}
	t.mu.RLock()
	tok, ok := t.tokens[tokenID]
	t.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("share token %s: %w", tokenID, ErrNotFound)
	}
	if tok.poolID != poolID {
		return 0, fmt.Errorf("share token %s was minted from pool %s: %w", tokenID, tok.poolID, ErrWrongPool)
	}

	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return 0, fmt.Errorf("pool %s: %w", poolID, ErrPaused)
	}
	if tok.consumed {
		p.mu.Unlock()
		return 0, fmt.Errorf("share token %s already redeemed: %w", tokenID, ErrNotFound)
	}
	if tok.owner != actor {
		p.mu.Unlock()
		return 0, fmt.Errorf("share token %s is not held by %s: %w", tokenID, actor, ErrNotAllowed)
	}
	redeemed, ok := mulDiv(tok.amount, p.balance, p.shareSupply)
	if !ok || redeemed > p.balance {
		p.mu.Unlock()
		return 0, fmt.Errorf("redemption of %d shares exceeds pool balance: %w", tok.amount, ErrInsufficientBalance)
	}
	p.shareSupply -= tok.amount
	p.balance -= redeemed
	tok.consumed = true
	now := t.clock.Now()
	p.mu.Unlock()

	t.mu.Lock()
	delete(t.tokens, tokenID)
	t.mu.Unlock()

	t.log.Debug("vault: withdrawal", "pool", poolID, "actor", actor, "shares", tok.amount, "redeemed", redeemed)
	t.sink.Emit(ctx, Event{
		Kind:    EventWithdrawal,
		PoolID:  poolID,
		Actor:   actor,
		Amount:  redeemed,
		TokenID: &tokenID,
		At:      now,
	})
	return redeemed, nil
}

// TransferShareToken moves ownership of an outstanding share token. The pause
// gate does not apply: transfers move claims around without touching the
// pool ledger.
func (t *Treasury) TransferShareToken(ctx context.Context, actor Address, tokenID uuid.UUID, to Address) error {
	if to.IsZero() {
		return fmt.Errorf("empty transfer target: %w", ErrInvalidRecipient)
	}
	t.mu.RLock()
	tok, ok := t.tokens[tokenID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("share token %s: %w", tokenID, ErrNotFound)
	}
	p, err := t.poolByID(tok.poolID)
	if err != nil {
		return err
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
	tok.owner = to
	now := t.clock.Now()
	p.mu.Unlock()

	t.log.Debug("vault: share token transferred", "token", tokenID, "from", actor, "to", to)
	t.sink.Emit(ctx, Event{
		Kind:      EventShareTransferred,
		PoolID:    tok.poolID,
		Actor:     actor,
		Amount:    tok.amount,
		TokenID:   &tokenID,
		Recipient: to,
		At:        now,
	})
	return nil
}

// TogglePause flips the pool's pause gate. Requires the pauser role. The gate
// itself stays operable while paused so an authorized pauser can always
// unpause.
func (t *Treasury) TogglePause(ctx context.Context, actor Address, poolID uuid.UUID) error {
	p, err := t.poolByID(poolID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if !p.hasRole(RolePauser, actor) {
		p.mu.Unlock()
		return fmt.Errorf("%s is not a pauser of pool %s: %w", actor, poolID, ErrNotAllowed)
	}
	p.paused = !p.paused
	paused := p.paused
	now := t.clock.Now()
	p.mu.Unlock()

	t.log.Info("vault: pause toggled", "pool", poolID, "paused", paused, "by", actor)
	t.sink.Emit(ctx, Event{
		Kind:   EventPauseToggled,
		PoolID: poolID,
		Actor:  actor,
		At:     now,
	})
	return nil
}
