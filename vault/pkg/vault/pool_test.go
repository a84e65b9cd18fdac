package vault_test

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	treasurytesting "github.com/aspis-finance/treasury/utils/pkg/testing"
	"github.com/aspis-finance/treasury/vault/pkg/vault"
)

func newAddr(t *testing.T) vault.Address {
	t.Helper()
	raw := make([]byte, vault.AddressLength)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	addr, err := vault.AddressFromBytes(raw)
	require.NoError(t, err)
	return addr
}

func newTreasury(t *testing.T, sink vault.Sink) *vault.Treasury {
	t.Helper()
	tr, err := vault.New(vault.Config{
		Logger: treasurytesting.NewLogger(),
		Clock:  clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Sink:   sink,
	})
	require.NoError(t, err)
	return tr
}

// captureSink records emitted events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []vault.Event
}

func (s *captureSink) Emit(_ context.Context, ev vault.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) kinds() []vault.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]vault.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestVault_NewRequiresLogger(t *testing.T) {
	t.Parallel()
	_, err := vault.New(vault.Config{})
	require.Error(t, err)
}

func TestVault_CreatePool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	creator := newAddr(t)

	pool, err := tr.CreatePool(ctx, creator, 2, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), pool.Balance)
	require.Equal(t, uint64(0), pool.ShareSupply)
	require.Equal(t, uint64(2), pool.RequiredVotes)
	require.False(t, pool.Paused)

	// The creator holds both roles.
	for _, role := range []vault.Role{vault.RoleManager, vault.RolePauser} {
		ok, err := tr.HasRole(pool.ID, role, creator)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestVault_CreatePoolRejectsZeroQuorum(t *testing.T) {
	t.Parallel()
	tr := newTreasury(t, nil)
	_, err := tr.CreatePool(context.Background(), newAddr(t), 0, 0)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)
}

func TestVault_FirstDepositorParity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	creator := newAddr(t)
	depositor := newAddr(t)

	// Unseeded pool: the first deposit mints 1:1 and a lone round trip is
	// exactly value-neutral.
	pool, err := tr.CreatePool(ctx, creator, 2, 0)
	require.NoError(t, err)

	tok, err := tr.Deposit(ctx, depositor, pool.ID, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(100), tok.Amount)
	require.Equal(t, depositor, tok.Owner)

	got, err := tr.Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(100), got.Balance)
	require.Equal(t, uint64(100), got.ShareSupply)

	redeemed, err := tr.Withdraw(ctx, depositor, pool.ID, tok.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(100), redeemed)

	got, err = tr.Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.Balance)
	require.Equal(t, uint64(0), got.ShareSupply)
}

// A pool seeded before any shares exist belongs entirely to whoever mints the
// first shares: redemption is strictly proportional, so the sole shareholder's
// claim covers the seed as well.
func TestVault_SeededPoolFirstDepositorCapturesSeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	depositor := newAddr(t)

	pool, err := tr.CreatePool(ctx, newAddr(t), 2, 1000)
	require.NoError(t, err)

	tok, err := tr.Deposit(ctx, depositor, pool.ID, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(100), tok.Amount)

	got, err := tr.Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1100), got.Balance)
	require.Equal(t, uint64(100), got.ShareSupply)

	// floor(100 * 1100 / 100) = 1100: the whole pool, seed included.
	redeemed, err := tr.Withdraw(ctx, depositor, pool.ID, tok.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1100), redeemed)

	got, err = tr.Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.Balance)
	require.Equal(t, uint64(0), got.ShareSupply)
}

// Pins the share-minting formula: shares = floor(amount * supply / balance)
// with the balance taken before the payment is added. A deposit of 100 into a
// pool holding 1100 with 100 shares outstanding mints floor(100*100/1100) = 9,
// not floor(100*100/1000) = 10.
func TestVault_DepositDenominatorRegression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	creator := newAddr(t)

	pool, err := tr.CreatePool(ctx, creator, 1, 1000)
	require.NoError(t, err)

	first, err := tr.Deposit(ctx, newAddr(t), pool.ID, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(100), first.Amount)

	second, err := tr.Deposit(ctx, newAddr(t), pool.ID, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(9), second.Amount)

	got, err := tr.Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1200), got.Balance)
	require.Equal(t, uint64(109), got.ShareSupply)
}

func TestVault_DepositRejectsZeroAmount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	pool, err := tr.CreatePool(ctx, newAddr(t), 1, 0)
	require.NoError(t, err)

	_, err = tr.Deposit(ctx, newAddr(t), pool.ID, 0)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)
}

func TestVault_DepositTooSmallToMintShares(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	creator := newAddr(t)
	pool, err := tr.CreatePool(ctx, creator, 1, 1_000_000)
	require.NoError(t, err)

	// Establish a share price of 1M balance units per share.
	_, err = tr.Deposit(ctx, newAddr(t), pool.ID, 1)
	require.NoError(t, err)

	// floor(1 * 1 / 1_000_001) == 0 shares.
	_, err = tr.Deposit(ctx, newAddr(t), pool.ID, 1)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)
}

func TestVault_WithdrawUnknownToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	pool, err := tr.CreatePool(ctx, newAddr(t), 1, 0)
	require.NoError(t, err)

	_, err = tr.Withdraw(ctx, newAddr(t), pool.ID, uuid.New())
	require.ErrorIs(t, err, vault.ErrNotFound)
}

func TestVault_WithdrawWrongPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	depositor := newAddr(t)

	poolA, err := tr.CreatePool(ctx, newAddr(t), 1, 0)
	require.NoError(t, err)
	poolB, err := tr.CreatePool(ctx, newAddr(t), 1, 0)
	require.NoError(t, err)

	tok, err := tr.Deposit(ctx, depositor, poolA.ID, 100)
	require.NoError(t, err)

	_, err = tr.Withdraw(ctx, depositor, poolB.ID, tok.ID)
	require.ErrorIs(t, err, vault.ErrWrongPool)

	// The token is still redeemable against its own pool.
	redeemed, err := tr.Withdraw(ctx, depositor, poolA.ID, tok.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(100), redeemed)
}

func TestVault_WithdrawRequiresOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	depositor := newAddr(t)

	pool, err := tr.CreatePool(ctx, newAddr(t), 1, 0)
	require.NoError(t, err)
	tok, err := tr.Deposit(ctx, depositor, pool.ID, 100)
	require.NoError(t, err)

	_, err = tr.Withdraw(ctx, newAddr(t), pool.ID, tok.ID)
	require.ErrorIs(t, err, vault.ErrNotAllowed)
}

func TestVault_WithdrawTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	depositor := newAddr(t)

	pool, err := tr.CreatePool(ctx, newAddr(t), 1, 0)
	require.NoError(t, err)
	tok, err := tr.Deposit(ctx, depositor, pool.ID, 100)
	require.NoError(t, err)

	_, err = tr.Withdraw(ctx, depositor, pool.ID, tok.ID)
	require.NoError(t, err)
	_, err = tr.Withdraw(ctx, depositor, pool.ID, tok.ID)
	require.ErrorIs(t, err, vault.ErrNotFound)
}

// The exchange rate balance/supply never decreases across deposit/withdraw
// sequences except by floor rounding; only proposal execution moves it down.
func TestVault_SharePriceNonDecreasing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	pool, err := tr.CreatePool(ctx, newAddr(t), 1, 777)
	require.NoError(t, err)

	holders := make([]vault.Address, 8)
	tokens := make([]vault.ShareToken, 8)
	for i := range holders {
		holders[i] = newAddr(t)
		tok, err := tr.Deposit(ctx, holders[i], pool.ID, uint64(50+i*37))
		require.NoError(t, err)
		tokens[i] = tok
	}

	price := func() float64 {
		got, err := tr.Pool(pool.ID)
		require.NoError(t, err)
		if got.ShareSupply == 0 {
			return 0
		}
		return float64(got.Balance) / float64(got.ShareSupply)
	}

	last := price()
	for i := 0; i < 4; i++ {
		_, err := tr.Withdraw(ctx, holders[i], pool.ID, tokens[i].ID)
		require.NoError(t, err)
		p := price()
		require.GreaterOrEqual(t, p, last-1e-9)
		last = p
	}
}

func TestVault_TransferShareToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	from := newAddr(t)
	to := newAddr(t)

	pool, err := tr.CreatePool(ctx, newAddr(t), 1, 0)
	require.NoError(t, err)
	tok, err := tr.Deposit(ctx, from, pool.ID, 100)
	require.NoError(t, err)

	require.NoError(t, tr.TransferShareToken(ctx, from, tok.ID, to))

	// The previous owner lost the claim.
	_, err = tr.Withdraw(ctx, from, pool.ID, tok.ID)
	require.ErrorIs(t, err, vault.ErrNotAllowed)

	redeemed, err := tr.Withdraw(ctx, to, pool.ID, tok.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(100), redeemed)
}

func TestVault_TogglePauseRequiresPauserRole(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	creator := newAddr(t)
	pool, err := tr.CreatePool(ctx, creator, 1, 0)
	require.NoError(t, err)

	err = tr.TogglePause(ctx, newAddr(t), pool.ID)
	require.ErrorIs(t, err, vault.ErrNotAllowed)

	require.NoError(t, tr.TogglePause(ctx, creator, pool.ID))
	got, err := tr.Pool(pool.ID)
	require.NoError(t, err)
	require.True(t, got.Paused)
}

func TestVault_PauseGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	creator := newAddr(t)
	depositor := newAddr(t)

	pool, err := tr.CreatePool(ctx, creator, 1, 1000)
	require.NoError(t, err)
	tok, err := tr.Deposit(ctx, depositor, pool.ID, 100)
	require.NoError(t, err)
	prop, err := tr.CreateProposal(ctx, creator, pool.ID, newAddr(t), 50)
	require.NoError(t, err)
	require.NoError(t, tr.Vote(ctx, depositor, pool.ID, prop.ID, tok.ID))

	require.NoError(t, tr.TogglePause(ctx, creator, pool.ID))
	before, err := tr.Pool(pool.ID)
	require.NoError(t, err)

	_, err = tr.Deposit(ctx, depositor, pool.ID, 10)
	require.ErrorIs(t, err, vault.ErrPaused)
	_, err = tr.Withdraw(ctx, depositor, pool.ID, tok.ID)
	require.ErrorIs(t, err, vault.ErrPaused)
	_, err = tr.CreateProposal(ctx, creator, pool.ID, newAddr(t), 10)
	require.ErrorIs(t, err, vault.ErrPaused)
	_, err = tr.ExecuteProposal(ctx, creator, pool.ID, prop.ID)
	require.ErrorIs(t, err, vault.ErrPaused)

	// Nothing moved.
	after, err := tr.Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, before.Balance, after.Balance)
	require.Equal(t, before.ShareSupply, after.ShareSupply)

	// An authorized pauser can always unpause.
	require.NoError(t, tr.TogglePause(ctx, creator, pool.ID))
	got, err := tr.Pool(pool.ID)
	require.NoError(t, err)
	require.False(t, got.Paused)
}

func TestVault_GrantRole(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	creator := newAddr(t)
	other := newAddr(t)

	pool, err := tr.CreatePool(ctx, creator, 1, 0)
	require.NoError(t, err)

	// Only managers may grant.
	err = tr.GrantRole(ctx, other, pool.ID, vault.RolePauser, other)
	require.ErrorIs(t, err, vault.ErrNotAllowed)

	require.NoError(t, tr.GrantRole(ctx, creator, pool.ID, vault.RolePauser, other))
	require.NoError(t, tr.TogglePause(ctx, other, pool.ID))

	// Pauser role does not imply manager.
	_, err = tr.CreateProposal(ctx, other, pool.ID, newAddr(t), 1)
	require.ErrorIs(t, err, vault.ErrPaused) // paused wins first
	require.NoError(t, tr.TogglePause(ctx, other, pool.ID))
	_, err = tr.CreateProposal(ctx, other, pool.ID, newAddr(t), 1)
	require.ErrorIs(t, err, vault.ErrNotAllowed)
}

func TestVault_GrantRoleRejectsUnknownRole(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	creator := newAddr(t)
	pool, err := tr.CreatePool(ctx, creator, 1, 0)
	require.NoError(t, err)

	err = tr.GrantRole(ctx, creator, pool.ID, vault.Role("auditor"), newAddr(t))
	require.Error(t, err)
}

func TestVault_ConcurrentDeposits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	pool, err := tr.CreatePool(ctx, newAddr(t), 1, 0)
	require.NoError(t, err)

	const n = 32
	addrs := make([]vault.Address, n)
	for i := range addrs {
		addrs[i] = newAddr(t)
	}
	errs := make(chan error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(addr vault.Address) {
			defer wg.Done()
			_, err := tr.Deposit(ctx, addr, pool.ID, 10)
			errs <- err
		}(addrs[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := tr.Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(n*10), got.Balance)
	// With identical deposits and an empty pool the share price stays at 1,
	// so the supply must equal the balance regardless of interleaving.
	require.Equal(t, uint64(n*10), got.ShareSupply)
}

func TestVault_ConcurrentWithdrawSameToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTreasury(t, nil)
	depositor := newAddr(t)
	pool, err := tr.CreatePool(ctx, newAddr(t), 1, 0)
	require.NoError(t, err)
	tok, err := tr.Deposit(ctx, depositor, pool.ID, 100)
	require.NoError(t, err)

	const n = 8
	results := make(chan error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := tr.Withdraw(ctx, depositor, pool.ID, tok.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, vault.ErrNotFound)
		}
	}
	require.Equal(t, 1, succeeded)

	got, err := tr.Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.Balance)
	require.Equal(t, uint64(0), got.ShareSupply)
}

func TestVault_DepositEmitsEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := &captureSink{}
	tr := newTreasury(t, sink)
	depositor := newAddr(t)

	pool, err := tr.CreatePool(ctx, newAddr(t), 1, 0)
	require.NoError(t, err)
	tok, err := tr.Deposit(ctx, depositor, pool.ID, 100)
	require.NoError(t, err)
	_, err = tr.Withdraw(ctx, depositor, pool.ID, tok.ID)
	require.NoError(t, err)

	require.Equal(t, []vault.EventKind{
		vault.EventPoolCreated,
		vault.EventDeposit,
		vault.EventWithdrawal,
	}, sink.kinds())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	dep := sink.events[1]
	require.Equal(t, pool.ID, dep.PoolID)
	require.Equal(t, depositor, dep.Actor)
	require.Equal(t, uint64(100), dep.Amount)
	require.NotNil(t, dep.TokenID)
	require.Equal(t, tok.ID, *dep.TokenID)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), dep.At)
}
