// Package vault implements the pooled-custody treasury core: a pool ledger
// that keeps the share-token supply proportional to pooled value, and a
// proposal engine that gates collective withdrawals on a quorum of votes.
//
// Every mutating operation is linearizable against the pool it touches: state
// is only read or written while holding that pool's mutex, and all
// preconditions are checked before any field changes (check-then-act, never
// act-then-rollback).
package vault

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Config holds the treasury configuration.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Sink   Sink // optional; if nil, events are dropped
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Sink == nil {
		cfg.Sink = noopSink{}
	}
	return nil
}

// Treasury owns the pools, outstanding share tokens, and withdrawal proposals.
// It is safe for concurrent use.
type Treasury struct {
	log   *slog.Logger
	clock clockwork.Clock
	sink  Sink

	// mu guards the registries themselves; each pool's own mutex guards the
	// pool's balance, supply, roles, and every token/proposal bound to it.
	// Lock ordering is always registry before pool.
	mu        sync.RWMutex
	pools     map[uuid.UUID]*poolState
	tokens    map[uuid.UUID]*tokenState
	proposals map[uuid.UUID]*proposalState
}

func New(cfg Config) (*Treasury, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Treasury{
		log:       cfg.Logger,
		clock:     cfg.Clock,
		sink:      cfg.Sink,
		pools:     make(map[uuid.UUID]*poolState),
		tokens:    make(map[uuid.UUID]*tokenState),
		proposals: make(map[uuid.UUID]*proposalState),
	}, nil
}

type poolState struct {
	mu            sync.Mutex
	id            uuid.UUID
	balance       uint64
	shareSupply   uint64
	requiredVotes uint64
	paused        bool
	createdAt     time.Time
	roles         map[Role]map[Address]struct{}
}

type tokenState struct {
	id        uuid.UUID
	poolID    uuid.UUID
	amount    uint64
	owner     Address // guarded by the pool mutex
	consumed  bool    // guarded by the pool mutex
	createdAt time.Time
}

type proposalState struct {
	id         uuid.UUID
	poolID     uuid.UUID
	proposer   Address
	recipient  Address
	amount     uint64
	voters     map[uuid.UUID]struct{} // keyed by share-token id, guarded by the pool mutex
	metadata   map[string]string      // guarded by the pool mutex
	executed   bool                   // guarded by the pool mutex
	createdAt  time.Time
	executedAt time.Time
}

// Pool is a read-only snapshot of a pool's ledger state.
type Pool struct {
	ID            uuid.UUID `json:"id"`
	Balance       uint64    `json:"balance"`
	ShareSupply   uint64    `json:"share_supply"`
	RequiredVotes uint64    `json:"required_votes"`
	Paused        bool      `json:"paused"`
	CreatedAt     time.Time `json:"created_at"`
}

// ShareToken is a read-only snapshot of an outstanding share token.
type ShareToken struct {
	ID        uuid.UUID `json:"id"`
	PoolID    uuid.UUID `json:"pool_id"`
	Amount    uint64    `json:"amount"`
	Owner     Address   `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// Proposal is a read-only snapshot of a withdrawal proposal.
type Proposal struct {
	ID         uuid.UUID         `json:"id"`
	PoolID     uuid.UUID         `json:"pool_id"`
	Proposer   Address           `json:"proposer"`
	Recipient  Address           `json:"recipient"`
	Amount     uint64            `json:"amount"`
	Votes      uint64            `json:"votes"`
	Executed   bool              `json:"executed"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExecutedAt *time.Time        `json:"executed_at,omitempty"`
}

func (p *poolState) snapshot() Pool {
	return Pool{
		ID:            p.id,
		Balance:       p.balance,
		ShareSupply:   p.shareSupply,
		RequiredVotes: p.requiredVotes,
		Paused:        p.paused,
		CreatedAt:     p.createdAt,
	}
}

func (ts *tokenState) snapshot() ShareToken {
	return ShareToken{
		ID:        ts.id,
		PoolID:    ts.poolID,
		Amount:    ts.amount,
		Owner:     ts.owner,
		CreatedAt: ts.createdAt,
	}
}

func (ps *proposalState) snapshot() Proposal {
	md := make(map[string]string, len(ps.metadata))
	for k, v := range ps.metadata {
		md[k] = v
	}
	p := Proposal{
		ID:        ps.id,
		PoolID:    ps.poolID,
		Proposer:  ps.proposer,
		Recipient: ps.recipient,
		Amount:    ps.amount,
		Votes:     uint64(len(ps.voters)),
		Executed:  ps.executed,
		Metadata:  md,
		CreatedAt: ps.createdAt,
	}
	if ps.executed {
		at := ps.executedAt
		p.ExecutedAt = &at
	}
	return p
}

func (t *Treasury) poolByID(id uuid.UUID) (*poolState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Pool returns a snapshot of the pool with the given id.
func (t *Treasury) Pool(id uuid.UUID) (Pool, error) {
	p, err := t.poolByID(id)
	if err != nil {
		return Pool{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot(), nil
}

// Pools returns snapshots of every pool.
func (t *Treasury) Pools() []Pool {
	t.mu.RLock()
	states := make([]*poolState, 0, len(t.pools))
	for _, p := range t.pools {
		states = append(states, p)
	}
	t.mu.RUnlock()

	out := make([]Pool, 0, len(states))
	for _, p := range states {
		p.mu.Lock()
		out = append(out, p.snapshot())
		p.mu.Unlock()
	}
	return out
}

// ShareTokenByID returns a snapshot of an outstanding (unredeemed) share token.
func (t *Treasury) ShareTokenByID(id uuid.UUID) (ShareToken, error) {
	t.mu.RLock()
	ts, ok := t.tokens[id]
	t.mu.RUnlock()
	if !ok {
		return ShareToken{}, ErrNotFound
	}
	p, err := t.poolByID(ts.poolID)
	if err != nil {
		return ShareToken{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ts.consumed {
		return ShareToken{}, ErrNotFound
	}
	return ts.snapshot(), nil
}

// ProposalByID returns a snapshot of a proposal.
func (t *Treasury) ProposalByID(id uuid.UUID) (Proposal, error) {
	t.mu.RLock()
	ps, ok := t.proposals[id]
	t.mu.RUnlock()
	if !ok {
		return Proposal{}, ErrNotFound
	}
	p, err := t.poolByID(ps.poolID)
	if err != nil {
		return Proposal{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return ps.snapshot(), nil
}

// Proposals returns snapshots of every proposal bound to the given pool.
func (t *Treasury) Proposals(poolID uuid.UUID) ([]Proposal, error) {
	p, err := t.poolByID(poolID)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	states := make([]*proposalState, 0)
	for _, ps := range t.proposals {
		if ps.poolID == poolID {
			states = append(states, ps)
		}
	}
	t.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Proposal, 0, len(states))
	for _, ps := range states {
		out = append(out, ps.snapshot())
	}
	return out, nil
}
