package ability

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	phlog "github.com/oarkflow/log"
)

// ============================================================================
// ENGINE
// ============================================================================

// InvalidationBus broadcasts role invalidations to other processes. Each
// process keeps its own rule cache; a mutation publishes the affected role id
// so peers reload it.
type InvalidationBus interface {
	Publish(ctx context.Context, roleID string) error
}

// RoleAssigner is the optional write side of the account model. A UserSource
// implementing it enables Engine.ReassignRole.
type RoleAssigner interface {
	AssignRole(ctx context.Context, userID, roleID string) (previousRoleID string, err error)
}

// Engine wires the rule store, condition resolver and audit log into the
// surface consumed by the request-handling layer.
type Engine struct {
	roleSource RoleSource
	userSource UserSource
	ruleStore  *RuleStore
	resolver   *ConditionResolver
	audit      *AuditLogger
	logger     Logger
	bus        InvalidationBus

	decisionCache    *ristretto.Cache
	decisionCacheTTL time.Duration
}

type EngineOption func(*Engine) error

// WithLogger installs a Logger on the Engine.
func WithLogger(l Logger) EngineOption {
	return func(e *Engine) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithInvalidationBus installs a cross-process invalidation publisher.
func WithInvalidationBus(bus InvalidationBus) EngineOption {
	return func(e *Engine) error {
		e.bus = bus
		return nil
	}
}

// WithDecisionCache enables a ristretto-backed cache for subject-level
// CheckPermission results. The cache is cleared on every mutation and
// invalidation, so the TTL only bounds staleness across processes.
func WithDecisionCache(ttl time.Duration, numCounters, maxCost int64) EngineOption {
	return func(e *Engine) error {
		if numCounters <= 0 {
			numCounters = 1e5
		}
		if maxCost <= 0 {
			maxCost = 1e6
		}
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err != nil {
			return fmt.Errorf("decision cache: %w", err)
		}
		e.decisionCache = cache
		e.decisionCacheTTL = ttl
		return nil
	}
}

func NewEngine(roleSource RoleSource, userSource UserSource, auditStore AuditStore, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		roleSource:       roleSource,
		userSource:       userSource,
		logger:           NopLogger(),
		decisionCacheTTL: time.Second,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.ruleStore = NewRuleStore(roleSource, e.logger)
	e.resolver = NewConditionResolver(e.logger)
	e.audit = NewAuditLogger(auditStore, e.logger)
	return e, nil
}

// Init performs the initial rule load. A failure here is fatal to
// authorization correctness: the store stays fail-closed and the error must
// be surfaced loudly by the caller.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.ruleStore.Load(ctx, RoleFilter{}); err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	e.logger.Info("rule store loaded", "roles", len(e.ruleStore.RoleIDs()))
	return nil
}

// RuleStore exposes the cache for introspection and tests.
func (e *Engine) RuleStore() *RuleStore { return e.ruleStore }

// Resolver exposes the condition resolver for pre-flight diagnostics.
func (e *Engine) Resolver() *ConditionResolver { return e.resolver }

// Audit exposes the audit query surface.
func (e *Engine) Audit() *AuditLogger { return e.audit }

// ============================================================================
// ABILITY COMPILER
// ============================================================================

// CompileAbility builds the per-request ability for one user: the role's raw
// rules with every condition resolved against the live user. Returns
// (nil, nil) when the user has no role.
func (e *Engine) CompileAbility(user *User) (*Ability, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}
	if user.RoleID == "" {
		return nil, nil
	}
	raw, err := e.ruleStore.Rules(user.RoleID)
	if err != nil {
		return nil, err
	}
	resolved := make([]*Rule, 0, len(raw))
	for _, rule := range raw {
		if len(rule.Conditions) == 0 {
			resolved = append(resolved, rule)
			continue
		}
		dup := rule.Clone()
		dup.Conditions = e.resolver.Resolve(rule.Conditions, user)
		resolved = append(resolved, dup)
	}
	return &Ability{UserID: user.ID, RoleID: user.RoleID, rules: resolved}, nil
}

// ============================================================================
// DECISION POINT
// ============================================================================

// CheckPermission resolves the user by id and answers the subject-level
// can(action, subject, field?) question. Results may be served from the
// decision cache until the next mutation.
func (e *Engine) CheckPermission(ctx context.Context, userID string, action Action, subject string, field ...string) (bool, error) {
	f := fieldArg(field)
	key := decisionKey(userID, action, subject, f)
	if e.decisionCache != nil {
		if v, ok := e.decisionCache.Get(key); ok {
			if allowed, ok2 := v.(bool); ok2 {
				return allowed, nil
			}
		}
	}

	user, err := e.userSource.GetUser(ctx, userID)
	if err != nil || user == nil {
		return false, ErrUnauthenticated
	}
	ab, err := e.CompileAbility(user)
	if err != nil {
		return false, err
	}
	allowed := ab != nil && ab.Can(action, subject, f)
	e.logDecision(user.ID, action, subject, f, allowed)

	if e.decisionCache != nil {
		e.decisionCache.SetWithTTL(key, allowed, 1, e.decisionCacheTTL)
	}
	return allowed, nil
}

// CheckPermissionWithResource answers the instance-level question: the
// resolved conditions of a matching rule must hold against the concrete
// resource attributes. Never cached; conditions are user- and
// instance-specific.
func (e *Engine) CheckPermissionWithResource(user *User, action Action, res *Resource, field ...string) (bool, error) {
	if user == nil {
		return false, ErrUnauthenticated
	}
	ab, err := e.CompileAbility(user)
	if err != nil {
		return false, err
	}
	f := fieldArg(field)
	allowed := ab != nil && ab.CanInstance(action, res, f)
	if res != nil {
		e.logDecision(user.ID, action, res.Kind, f, allowed)
	}
	return allowed, nil
}

// Decision explains one permission check: the outcome, the rule that decided
// it and the rule's human reason.
type Decision struct {
	Allowed bool   `json:"allowed"`
	RuleID  string `json:"rule_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Explain runs an instance- or subject-level check and reports which rule
// decided the outcome.
func (e *Engine) Explain(user *User, action Action, subject string, res *Resource, field string) (*Decision, error) {
	ab, err := e.CompileAbility(user)
	if err != nil {
		return nil, err
	}
	if ab == nil {
		return &Decision{Allowed: false, Reason: "no role assigned"}, nil
	}
	allowed, rule := ab.Query(action, subject, res, field)
	d := &Decision{Allowed: allowed}
	if rule != nil {
		d.RuleID = rule.ID
		d.Reason = rule.Reason
		if d.Reason == "" && rule.Inverted {
			d.Reason = "matched forbid rule"
		}
	} else if !allowed {
		d.Reason = "no matching rule"
	}
	return d, nil
}

func decisionKey(userID string, action Action, subject, field string) string {
	return userID + "\x00" + string(action) + "\x00" + subject + "\x00" + field
}

func (e *Engine) logDecision(userID string, action Action, subject, field string, allowed bool) {
	evt := phlog.Info()
	if !allowed {
		evt = phlog.Warn()
	}
	evt.Str("user", userID).
		Str("action", string(action)).
		Str("subject", subject).
		Str("field", field).
		Bool("allowed", allowed).
		Msg("permission decision")
}

// ============================================================================
// CACHE CONTROL
// ============================================================================

// InvalidateRole reloads one role's rules from the durable model and drops
// cached decisions.
func (e *Engine) InvalidateRole(ctx context.Context, roleID string) error {
	if err := e.ruleStore.Invalidate(ctx, roleID); err != nil {
		return err
	}
	e.dropDecisions()
	return nil
}

// ClearCache empties the rule cache and the decision cache.
func (e *Engine) ClearCache() {
	e.ruleStore.Clear()
	e.dropDecisions()
}

func (e *Engine) dropDecisions() {
	if e.decisionCache != nil {
		e.decisionCache.Clear()
	}
}

// afterMutation reloads the affected role, drops decisions and broadcasts the
// invalidation. Broadcast failures are logged, never propagated.
func (e *Engine) afterMutation(ctx context.Context, roleID string) {
	if roleID != "" {
		if err := e.ruleStore.Invalidate(ctx, roleID); err != nil {
			e.logger.Error("post-mutation reload failed", "role_id", roleID, "error", err.Error())
		}
	}
	e.dropDecisions()
	if e.bus != nil && roleID != "" {
		if err := e.bus.Publish(ctx, roleID); err != nil {
			e.logger.Error("invalidation broadcast failed", "role_id", roleID, "error", err.Error())
		}
	}
}

// ============================================================================
// MUTATIONS (each invalidates caches and records exactly one audit entry)
// ============================================================================

// AddPermission attaches a rule to a role.
func (e *Engine) AddPermission(ctx context.Context, roleID string, rule *Rule, meta RequestMeta) error {
	if err := rule.Validate(); err != nil {
		return newMutationError("add permission", roleID, err)
	}
	if rule.ID == "" {
		rule.ID = fmt.Sprintf("perm-%d", time.Now().UnixNano())
	}
	rule.RoleID = roleID
	if err := e.roleSource.CreateRule(ctx, roleID, rule); err != nil {
		e.logger.Error("add permission failed", "role_id", roleID, "error", err.Error())
		return newMutationError("add permission", roleID, err)
	}
	e.afterMutation(ctx, roleID)
	e.audit.Record(ctx, PermissionGrantedEntry(roleID, rule, meta))
	return nil
}

// RemovePermission detaches a rule from a role.
func (e *Engine) RemovePermission(ctx context.Context, roleID, ruleID string, meta RequestMeta) error {
	before := e.findCachedRule(roleID, ruleID)
	if err := e.roleSource.DeleteRule(ctx, roleID, ruleID); err != nil {
		e.logger.Error("remove permission failed", "role_id", roleID, "rule_id", ruleID, "error", err.Error())
		return newMutationError("remove permission", ruleID, err)
	}
	e.afterMutation(ctx, roleID)
	if before == nil {
		before = &Rule{ID: ruleID, RoleID: roleID}
	}
	e.audit.Record(ctx, PermissionRevokedEntry(roleID, before, meta))
	return nil
}

// UpdatePermission replaces an existing rule in place.
func (e *Engine) UpdatePermission(ctx context.Context, roleID string, rule *Rule, meta RequestMeta) error {
	if err := rule.Validate(); err != nil {
		return newMutationError("update permission", rule.ID, err)
	}
	before := e.findCachedRule(roleID, rule.ID)
	rule.RoleID = roleID
	if err := e.roleSource.UpdateRule(ctx, roleID, rule); err != nil {
		e.logger.Error("update permission failed", "role_id", roleID, "rule_id", rule.ID, "error", err.Error())
		return newMutationError("update permission", rule.ID, err)
	}
	e.afterMutation(ctx, roleID)
	if before == nil {
		before = &Rule{ID: rule.ID, RoleID: roleID}
	}
	e.audit.Record(ctx, PermissionUpdatedEntry(roleID, before, rule, meta))
	return nil
}

// CreateRole creates a role with its initial rules.
func (e *Engine) CreateRole(ctx context.Context, role *Role, meta RequestMeta) error {
	if role.ID == "" || role.Name == "" {
		return newMutationError("create role", role.ID, fmt.Errorf("role id and name are required"))
	}
	for _, rule := range role.Rules {
		if err := rule.Validate(); err != nil {
			return newMutationError("create role", role.ID, err)
		}
	}
	if err := e.roleSource.CreateRole(ctx, role); err != nil {
		e.logger.Error("create role failed", "role_id", role.ID, "error", err.Error())
		return newMutationError("create role", role.ID, err)
	}
	e.afterMutation(ctx, role.ID)
	e.audit.Record(ctx, RoleCreatedEntry(role, meta))
	return nil
}

// UpdateRole updates a role's name/description/rules.
func (e *Engine) UpdateRole(ctx context.Context, role *Role, meta RequestMeta) error {
	before, err := e.roleSource.GetRole(ctx, role.ID)
	if err != nil {
		return newMutationError("update role", role.ID, err)
	}
	if err := e.roleSource.UpdateRole(ctx, role); err != nil {
		e.logger.Error("update role failed", "role_id", role.ID, "error", err.Error())
		return newMutationError("update role", role.ID, err)
	}
	e.afterMutation(ctx, role.ID)
	e.audit.Record(ctx, RoleUpdatedEntry(before, role, meta))
	return nil
}

// DeleteRole removes a role; its rules are deleted with it.
func (e *Engine) DeleteRole(ctx context.Context, roleID string, meta RequestMeta) error {
	before, err := e.roleSource.GetRole(ctx, roleID)
	if err != nil {
		return newMutationError("delete role", roleID, err)
	}
	if err := e.roleSource.DeleteRole(ctx, roleID); err != nil {
		e.logger.Error("delete role failed", "role_id", roleID, "error", err.Error())
		return newMutationError("delete role", roleID, err)
	}
	e.afterMutation(ctx, roleID)
	e.audit.Record(ctx, RoleDeletedEntry(before, meta))
	return nil
}

// ReassignRole moves an account to a different role. The user source must
// implement RoleAssigner.
func (e *Engine) ReassignRole(ctx context.Context, userID, roleID string, meta RequestMeta) error {
	assigner, ok := e.userSource.(RoleAssigner)
	if !ok {
		return newMutationError("reassign role", userID, fmt.Errorf("user source does not support role assignment"))
	}
	previous, err := assigner.AssignRole(ctx, userID, roleID)
	if err != nil {
		e.logger.Error("reassign role failed", "user_id", userID, "role_id", roleID, "error", err.Error())
		return newMutationError("reassign role", userID, err)
	}
	e.dropDecisions()
	e.audit.Record(ctx, RoleReassignedEntry(userID, previous, roleID, meta))
	return nil
}

// findCachedRule looks a rule up in the cache for before-snapshots; best
// effort, mutation proceeds without it. The store already hands out copies.
func (e *Engine) findCachedRule(roleID, ruleID string) *Rule {
	rules, err := e.ruleStore.Rules(roleID)
	if err != nil {
		return nil
	}
	for _, r := range rules {
		if r.ID == ruleID {
			return r
		}
	}
	return nil
}
