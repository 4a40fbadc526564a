package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oarkflow/ability"
)

// ============================================================================
// IN-MEMORY STORES
// ============================================================================

// MemoryRoleSource keeps roles and their rules in memory. It backs tests and
// single-process deployments without a database.
type MemoryRoleSource struct {
	mu    sync.RWMutex
	roles map[string]*ability.Role
	order []string
}

func NewMemoryRoleSource() *MemoryRoleSource {
	return &MemoryRoleSource{roles: make(map[string]*ability.Role)}
}

func (s *MemoryRoleSource) ListRoles(ctx context.Context, filter ability.RoleFilter) ([]*ability.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	if len(filter.RoleIDs) > 0 {
		ids = filter.RoleIDs
	} else {
		ids = s.order
	}
	out := make([]*ability.Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.roles[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *MemoryRoleSource) GetRole(ctx context.Context, id string) (*ability.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role not found: %s", id)
	}
	return r.Clone(), nil
}

func (s *MemoryRoleSource) CreateRole(ctx context.Context, r *ability.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roles[r.ID]; exists {
		return fmt.Errorf("role already exists: %s", r.ID)
	}
	dup := r.Clone()
	dup.CreatedAt = time.Now()
	dup.UpdatedAt = dup.CreatedAt
	s.roles[r.ID] = dup
	s.order = append(s.order, r.ID)
	return nil
}

func (s *MemoryRoleSource) UpdateRole(ctx context.Context, r *ability.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.roles[r.ID]
	if !ok {
		return fmt.Errorf("role not found: %s", r.ID)
	}
	dup := r.Clone()
	dup.CreatedAt = old.CreatedAt
	dup.UpdatedAt = time.Now()
	s.roles[r.ID] = dup
	return nil
}

// DeleteRole removes the role; rules are owned by the role and go with it.
func (s *MemoryRoleSource) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return fmt.Errorf("role not found: %s", id)
	}
	delete(s.roles, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryRoleSource) CreateRule(ctx context.Context, roleID string, rule *ability.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return fmt.Errorf("role not found: %s", roleID)
	}
	for _, existing := range role.Rules {
		if existing.ID == rule.ID {
			return fmt.Errorf("rule already exists: %s", rule.ID)
		}
	}
	dup := rule.Clone()
	dup.RoleID = roleID
	dup.CreatedAt = time.Now()
	dup.UpdatedAt = dup.CreatedAt
	role.Rules = append(role.Rules, dup)
	return nil
}

func (s *MemoryRoleSource) UpdateRule(ctx context.Context, roleID string, rule *ability.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return fmt.Errorf("role not found: %s", roleID)
	}
	for i, existing := range role.Rules {
		if existing.ID == rule.ID {
			dup := rule.Clone()
			dup.RoleID = roleID
			dup.CreatedAt = existing.CreatedAt
			dup.UpdatedAt = time.Now()
			role.Rules[i] = dup
			return nil
		}
	}
	return fmt.Errorf("rule not found: %s", rule.ID)
}

func (s *MemoryRoleSource) DeleteRule(ctx context.Context, roleID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return fmt.Errorf("role not found: %s", roleID)
	}
	for i, existing := range role.Rules {
		if existing.ID == ruleID {
			role.Rules = append(role.Rules[:i], role.Rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("rule not found: %s", ruleID)
}

// MemoryUserSource is an in-memory account read model. It implements
// ability.RoleAssigner so role reassignment works in tests.
type MemoryUserSource struct {
	mu    sync.RWMutex
	users map[string]*ability.User
}

func NewMemoryUserSource() *MemoryUserSource {
	return &MemoryUserSource{users: make(map[string]*ability.User)}
}

func (s *MemoryUserSource) PutUser(u *ability.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryUserSource) GetUser(ctx context.Context, id string) (*ability.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	return u, nil
}

func (s *MemoryUserSource) AssignRole(ctx context.Context, userID, roleID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return "", fmt.Errorf("user not found: %s", userID)
	}
	previous := u.RoleID
	u.RoleID = roleID
	return previous, nil
}

// MemoryAuditStore is an append-only in-memory audit store.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*ability.AuditEntry
	failing bool // when set, Insert fails; used to test audit resilience
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*ability.AuditEntry, 0)}
}

// SetFailing toggles simulated store unavailability.
func (s *MemoryAuditStore) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *MemoryAuditStore) Insert(ctx context.Context, entry *ability.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("audit store unavailable")
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) Query(ctx context.Context, filter ability.AuditFilter) ([]*ability.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*ability.AuditEntry, 0)
	for _, e := range s.entries {
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.CreatedAt.After(filter.Until) {
			continue
		}
		matched = append(matched, e)
	}
	// newest first
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*ability.AuditEntry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryAuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]*ability.AuditEntry, 0, len(s.entries))
	removed := 0
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}
