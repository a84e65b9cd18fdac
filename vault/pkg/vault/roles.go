package vault

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Role names a capability an address can hold on a specific pool. The set is
// closed: privileged operations check exactly one of these.
type Role string

const (
	// RoleManager can create and execute withdrawal proposals and grant roles.
	RoleManager Role = "manager"
	// RolePauser can toggle the pool's pause gate.
	RolePauser Role = "pauser"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleManager, RolePauser:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// hasRole reports whether addr holds role on this pool. Callers hold the pool
// mutex.
func (p *poolState) hasRole(role Role, addr Address) bool {
	holders, ok := p.roles[role]
	if !ok {
		return false
	}
	_, ok = holders[addr]
	return ok
}

// grantRole inserts a registry entry. Insertion is idempotent: possession of
// an entry is necessary and sufficient, so re-granting changes nothing.
// Callers hold the pool mutex.
func (p *poolState) grantRole(role Role, addr Address) {
	holders, ok := p.roles[role]
	if !ok {
		holders = make(map[Address]struct{})
		p.roles[role] = holders
	}
	holders[addr] = struct{}{}
}

// GrantRole registers grantee for role on the pool. Only a manager may grant.
func (t *Treasury) GrantRole(ctx context.Context, actor Address, poolID uuid.UUID, role Role, grantee Address) error {
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	if grantee.IsZero() {
		return fmt.Errorf("empty grantee: %w", ErrInvalidRecipient)
	}
	p, err := t.poolByID(poolID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if !p.hasRole(RoleManager, actor) {
		p.mu.Unlock()
		return fmt.Errorf("%s is not a manager of pool %s: %w", actor, poolID, ErrNotAllowed)
	}
	p.grantRole(role, grantee)
	now := t.clock.Now()
	p.mu.Unlock()

	t.log.Debug("vault: role granted", "pool", poolID, "role", role, "grantee", grantee, "by", actor)
	t.sink.Emit(ctx, Event{
		Kind:      EventRoleGranted,
		PoolID:    poolID,
		Actor:     actor,
		Recipient: grantee,
		At:        now,
	})
	return nil
}

// HasRole reports whether addr holds role on the pool.
func (t *Treasury) HasRole(poolID uuid.UUID, role Role, addr Address) (bool, error) {
	p, err := t.poolByID(poolID)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasRole(role, addr), nil
}
