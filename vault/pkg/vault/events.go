package vault

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a state transition.
type EventKind string

const (
	EventPoolCreated      EventKind = "pool_created"
	EventDeposit          EventKind = "deposit"
	EventWithdrawal       EventKind = "withdrawal"
	EventPauseToggled     EventKind = "pause_toggled"
	EventRoleGranted      EventKind = "role_granted"
	EventShareTransferred EventKind = "share_transferred"
	EventProposalCreated  EventKind = "proposal_created"
	EventVoteCast         EventKind = "vote_cast"
	EventProposalExecuted EventKind = "proposal_executed"
)

// Event describes a single committed state transition. One event is emitted
// per successful mutating operation; failed operations emit nothing.
type Event struct {
	Kind       EventKind  `json:"kind"`
	PoolID     uuid.UUID  `json:"pool_id"`
	Actor      Address    `json:"actor"`
	Amount     uint64     `json:"amount,omitempty"`
	TokenID    *uuid.UUID `json:"token_id,omitempty"`
	ProposalID *uuid.UUID `json:"proposal_id,omitempty"`
	Recipient  Address    `json:"recipient,omitempty"`
	At         time.Time  `json:"at"`
}

// Sink receives committed events. Emit is called after the state change has
// been applied; a sink failure does not roll the operation back.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// LogSink writes events to a slog logger.
type LogSink struct {
	Log *slog.Logger
}

func (s *LogSink) Emit(ctx context.Context, ev Event) {
	s.Log.Info("vault: event",
		"kind", ev.Kind,
		"pool", ev.PoolID,
		"actor", ev.Actor,
		"amount", ev.Amount,
	)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (s MultiSink) Emit(ctx context.Context, ev Event) {
	for _, sink := range s {
		sink.Emit(ctx, ev)
	}
}

type noopSink struct{}

func (noopSink) Emit(context.Context, Event) {}
