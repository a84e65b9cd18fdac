package audit_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apitesting "github.com/aspis-finance/treasury/api/testing"
	"github.com/aspis-finance/treasury/vault/pkg/audit"
	"github.com/aspis-finance/treasury/vault/pkg/vault"
)

func newStore(t *testing.T) *audit.Store {
	t.Helper()
	apitesting.RunMigrations(t, testDB)
	pool := apitesting.NewTestPool(t, testDB)

	store, err := audit.NewStore(audit.StoreConfig{
		Logger: slog.New(slog.DiscardHandler),
		Pool:   pool,
	})
	require.NoError(t, err)
	return store
}

func TestStore_AppendAndRecent(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := t.Context()

	poolID := uuid.New()
	tokenID := uuid.New()
	actor := vault.Address("4Nd1mY5c1fQvU3sMhVqkqvgpPB7sHMEbNRgEPpRWe2Nh")
	at := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.Append(ctx, vault.Event{
		Kind:   vault.EventPoolCreated,
		PoolID: poolID,
		Actor:  actor,
		Amount: 1000,
		At:     at,
	}))
	require.NoError(t, store.Append(ctx, vault.Event{
		Kind:    vault.EventDeposit,
		PoolID:  poolID,
		Actor:   actor,
		Amount:  100,
		TokenID: &tokenID,
		At:      at.Add(time.Second),
	}))

	idStr := poolID.String()
	records, err := store.Recent(ctx, &idStr, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, vault.EventDeposit, records[0].Event.Kind)
	assert.Equal(t, uint64(100), records[0].Event.Amount)
	require.NotNil(t, records[0].Event.TokenID)
	assert.Equal(t, tokenID, *records[0].Event.TokenID)
	assert.Nil(t, records[0].Event.ProposalID)
	assert.Greater(t, records[0].Seq, records[1].Seq)

	assert.Equal(t, vault.EventPoolCreated, records[1].Event.Kind)
	assert.Equal(t, actor, records[1].Event.Actor)
	assert.WithinDuration(t, at, records[1].Event.At, time.Millisecond)
}

func TestStore_RecentFiltersByPool(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := t.Context()

	poolA := uuid.New()
	poolB := uuid.New()
	actor := vault.Address("4Nd1mY5c1fQvU3sMhVqkqvgpPB7sHMEbNRgEPpRWe2Nh")

	for _, id := range []uuid.UUID{poolA, poolA, poolB} {
		require.NoError(t, store.Append(ctx, vault.Event{
			Kind:   vault.EventDeposit,
			PoolID: id,
			Actor:  actor,
			Amount: 1,
			At:     time.Now(),
		}))
	}

	idStr := poolA.String()
	records, err := store.Recent(ctx, &idStr, 10, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, poolA, rec.Event.PoolID)
	}
}

func TestStore_RecentPagination(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := t.Context()

	poolID := uuid.New()
	actor := vault.Address("4Nd1mY5c1fQvU3sMhVqkqvgpPB7sHMEbNRgEPpRWe2Nh")
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, vault.Event{
			Kind:   vault.EventDeposit,
			PoolID: poolID,
			Actor:  actor,
			Amount: uint64(i + 1),
			At:     time.Now(),
		}))
	}

	idStr := poolID.String()
	page1, err := store.Recent(ctx, &idStr, 2, 0)
	require.NoError(t, err)
	page2, err := store.Recent(ctx, &idStr, 2, 2)
	require.NoError(t, err)

	require.Len(t, page1, 2)
	require.Len(t, page2, 2)
	assert.Greater(t, page1[1].Seq, page2[0].Seq)
}

func TestStore_EmitSwallowsErrors(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	// A cancelled context makes the write fail; Emit must not panic and the
	// failure stays out of the caller's path.
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	store.Emit(ctx, vault.Event{
		Kind:   vault.EventDeposit,
		PoolID: uuid.New(),
		Actor:  vault.Address("4Nd1mY5c1fQvU3sMhVqkqvgpPB7sHMEbNRgEPpRWe2Nh"),
		Amount: 1,
		At:     time.Now(),
	})
}

func TestStore_CountAcrossPools(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := t.Context()

	before, err := store.Count(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, vault.Event{
		Kind:   vault.EventWithdrawal,
		PoolID: uuid.New(),
		Actor:  vault.Address("4Nd1mY5c1fQvU3sMhVqkqvgpPB7sHMEbNRgEPpRWe2Nh"),
		Amount: 7,
		At:     time.Now(),
	}))

	after, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
}
