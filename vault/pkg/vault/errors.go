package vault

import "errors"

// Every operation validates its preconditions before touching any state, so a
// returned error always means nothing was mutated.
var (
	// ErrInvalidAmount is returned for a zero amount on deposit, withdrawal,
	// or proposal creation.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidRecipient is returned when a proposal recipient is empty or
	// not a valid address.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrInsufficientBalance is returned when a requested amount exceeds the
	// current pool balance.
	ErrInsufficientBalance = errors.New("insufficient pool balance")

	// ErrWrongPool is returned when a share token is presented against a pool
	// it was not minted from.
	ErrWrongPool = errors.New("share token bound to a different pool")

	// ErrInvalidProposal is returned when a proposal is presented against the
	// wrong pool or has already been executed.
	ErrInvalidProposal = errors.New("invalid proposal")

	// ErrAlreadyVoted is returned when the same share token votes twice on
	// one proposal.
	ErrAlreadyVoted = errors.New("share token already voted")

	// ErrNotEnoughVotes is returned when execution is attempted below quorum.
	ErrNotEnoughVotes = errors.New("not enough votes")

	// ErrNotAllowed is returned when the acting address does not hold the
	// role an operation requires.
	ErrNotAllowed = errors.New("not allowed")

	// ErrPaused is returned when a pool-mutating operation is attempted while
	// the pool is paused.
	ErrPaused = errors.New("pool is paused")

	// ErrNotFound is returned for an unknown pool, share token, or proposal id.
	ErrNotFound = errors.New("not found")
)
