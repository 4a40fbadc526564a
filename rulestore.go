package ability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RoleFilter narrows a RoleSource listing. Zero value means all roles.
type RoleFilter struct {
	RoleIDs []string
}

// RoleSource is the durable role/permission read model the cache is
// populated from.
type RoleSource interface {
	ListRoles(ctx context.Context, filter RoleFilter) ([]*Role, error)
	GetRole(ctx context.Context, id string) (*Role, error)
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id string) error
	CreateRule(ctx context.Context, roleID string, rule *Rule) error
	UpdateRule(ctx context.Context, roleID string, rule *Rule) error
	DeleteRule(ctx context.Context, roleID, ruleID string) error
}

// UserSource resolves acting users with their role eagerly attached.
type UserSource interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

// ErrStoreNotLoaded is returned while the rule store has never completed a
// successful load. Checks fail closed until it clears.
var ErrStoreNotLoaded = fmt.Errorf("rule store not loaded")

// RuleStore is the in-memory cache mapping role id to its ordered rule list.
// It is read on every authorization check and written only on permission or
// role mutation; reloads swap entries per role, never under a global write
// window longer than one map assignment.
type RuleStore struct {
	source RoleSource
	logger Logger

	mu       sync.RWMutex
	rules    map[string][]*Rule
	loaded   bool
	loadErr  error
	loadedAt time.Time
}

func NewRuleStore(source RoleSource, logger Logger) *RuleStore {
	return &RuleStore{
		source: source,
		logger: logger,
		rules:  make(map[string][]*Rule),
	}
}

// Load reads all (or filtered) roles with their rules from the durable model
// and replaces the affected cache entries. A failed initial load leaves the
// store in a distinguishable not-loaded state: every subsequent read reports
// ErrStoreNotLoaded rather than silently serving an empty cache.
func (s *RuleStore) Load(ctx context.Context, filter RoleFilter) error {
	roles, err := s.source.ListRoles(ctx, filter)
	if err != nil {
		s.mu.Lock()
		if !s.loaded {
			s.loadErr = fmt.Errorf("rule store initial load: %w", err)
		}
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Error("rule store load failed", "error", err.Error())
		}
		return fmt.Errorf("load roles: %w", err)
	}

	fresh := make(map[string][]*Rule, len(roles))
	for _, role := range roles {
		list := make([]*Rule, 0, len(role.Rules))
		for _, rule := range role.Rules {
			dup := rule.Clone()
			dup.RoleID = role.ID
			list = append(list, dup)
		}
		fresh[role.ID] = list
	}

	s.mu.Lock()
	if len(filter.RoleIDs) == 0 {
		s.rules = fresh
	} else {
		for _, id := range filter.RoleIDs {
			if list, ok := fresh[id]; ok {
				s.rules[id] = list
			} else {
				delete(s.rules, id)
			}
		}
	}
	s.loaded = true
	s.loadErr = nil
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Invalidate re-runs Load scoped to one role.
func (s *RuleStore) Invalidate(ctx context.Context, roleID string) error {
	return s.Load(ctx, RoleFilter{RoleIDs: []string{roleID}})
}

// Clear empties the cache. The store stays in the loaded state so reads
// fail closed with an empty rule set rather than an initialization error.
func (s *RuleStore) Clear() {
	s.mu.Lock()
	s.rules = make(map[string][]*Rule)
	s.mu.Unlock()
}

// Rules returns deep copies of the cached rules for a role, in declaration
// order, so a caller can never mutate the cached rule set. No rules means no
// permission.
func (s *RuleStore) Rules(roleID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		if s.loadErr != nil {
			return nil, s.loadErr
		}
		return nil, ErrStoreNotLoaded
	}
	cached := s.rules[roleID]
	out := make([]*Rule, len(cached))
	for i, r := range cached {
		out[i] = r.Clone()
	}
	return out, nil
}

// Loaded reports whether an initial load has completed.
func (s *RuleStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// LoadedAt returns the time of the last successful load.
func (s *RuleStore) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// RoleIDs returns the role ids currently cached, for introspection.
func (s *RuleStore) RoleIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rules))
	for id := range s.rules {
		out = append(out, id)
	}
	return out
}
