package ability

import (
	"context"
	"fmt"
	"time"
)

// ============================================================================
// AUDIT LOG
// ============================================================================

// AuditAction is the closed enumeration of auditable permission mutations.
type AuditAction string

const (
	AuditGrantPermission  AuditAction = "grant_permission"
	AuditRevokePermission AuditAction = "revoke_permission"
	AuditUpdatePermission AuditAction = "update_permission"
	AuditCreateRole       AuditAction = "create_role"
	AuditUpdateRole       AuditAction = "update_role"
	AuditDeleteRole       AuditAction = "delete_role"
	AuditReassignRole     AuditAction = "reassign_role"
)

// AuditEntry is one immutable record of a role/permission mutation. Entries
// are never mutated after creation; retention is bounded only by Cleanup.
type AuditEntry struct {
	ID          string         `json:"id"`
	ActorID     string         `json:"actor_id,omitempty"` // empty when system-initiated
	Action      AuditAction    `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	Description string         `json:"description,omitempty"`
	IP          string         `json:"ip,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RequestMeta carries the actor and request metadata attached to a mutation.
type RequestMeta struct {
	ActorID   string
	IP        string
	UserAgent string
}

// AuditFilter narrows audit queries. Zero fields are ignored.
type AuditFilter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Action     AuditAction
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// AuditStore is the durable append-only audit model.
type AuditStore interface {
	Insert(ctx context.Context, entry *AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditLogger wraps an AuditStore behind a never-fails Record call: a failed
// persist is logged and dropped so the triggering business mutation is never
// rolled back by audit unavailability.
type AuditLogger struct {
	store  AuditStore
	logger Logger
	now    func() time.Time
	nextID func() string
}

func NewAuditLogger(store AuditStore, logger Logger) *AuditLogger {
	if logger == nil {
		logger = NopLogger()
	}
	return &AuditLogger{
		store:  store,
		logger: logger,
		now:    time.Now,
		nextID: func() string { return fmt.Sprintf("audit-%d", time.Now().UnixNano()) },
	}
}

// Record persists the entry, stamping id and timestamp. Returns the stored
// entry, or nil when persistence failed or no store is configured.
func (a *AuditLogger) Record(ctx context.Context, entry *AuditEntry) *AuditEntry {
	if a == nil || a.store == nil || entry == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = a.nextID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now()
	}
	if err := a.store.Insert(ctx, entry); err != nil {
		a.logger.Error("audit write failed, entry dropped",
			"action", string(entry.Action),
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err.Error(),
		)
		return nil
	}
	return entry
}

// Convenience constructors, one per audit action kind.

func PermissionGrantedEntry(roleID string, rule *Rule, meta RequestMeta) *AuditEntry {
	return &AuditEntry{
		ActorID:     meta.ActorID,
		Action:      AuditGrantPermission,
		EntityType:  "permission",
		EntityID:    rule.ID,
		After:       rule.Snapshot(),
		Description: fmt.Sprintf("permission %s granted to role %s", rule.ID, roleID),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Metadata:    map[string]any{"role_id": roleID},
	}
}

func PermissionRevokedEntry(roleID string, rule *Rule, meta RequestMeta) *AuditEntry {
	return &AuditEntry{
		ActorID:     meta.ActorID,
		Action:      AuditRevokePermission,
		EntityType:  "permission",
		EntityID:    rule.ID,
		Before:      rule.Snapshot(),
		Description: fmt.Sprintf("permission %s revoked from role %s", rule.ID, roleID),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Metadata:    map[string]any{"role_id": roleID},
	}
}

func PermissionUpdatedEntry(roleID string, before, after *Rule, meta RequestMeta) *AuditEntry {
	return &AuditEntry{
		ActorID:     meta.ActorID,
		Action:      AuditUpdatePermission,
		EntityType:  "permission",
		EntityID:    after.ID,
		Before:      before.Snapshot(),
		After:       after.Snapshot(),
		Description: fmt.Sprintf("permission %s updated on role %s", after.ID, roleID),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Metadata:    map[string]any{"role_id": roleID},
	}
}

func RoleCreatedEntry(role *Role, meta RequestMeta) *AuditEntry {
	return &AuditEntry{
		ActorID:     meta.ActorID,
		Action:      AuditCreateRole,
		EntityType:  "role",
		EntityID:    role.ID,
		After:       role.Snapshot(),
		Description: fmt.Sprintf("role %s created", role.Name),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	}
}

func RoleUpdatedEntry(before, after *Role, meta RequestMeta) *AuditEntry {
	return &AuditEntry{
		ActorID:     meta.ActorID,
		Action:      AuditUpdateRole,
		EntityType:  "role",
		EntityID:    after.ID,
		Before:      before.Snapshot(),
		After:       after.Snapshot(),
		Description: fmt.Sprintf("role %s updated", after.Name),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	}
}

func RoleDeletedEntry(role *Role, meta RequestMeta) *AuditEntry {
	return &AuditEntry{
		ActorID:     meta.ActorID,
		Action:      AuditDeleteRole,
		EntityType:  "role",
		EntityID:    role.ID,
		Before:      role.Snapshot(),
		Description: fmt.Sprintf("role %s deleted", role.Name),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	}
}

func RoleReassignedEntry(accountID, oldRoleID, newRoleID string, meta RequestMeta) *AuditEntry {
	return &AuditEntry{
		ActorID:     meta.ActorID,
		Action:      AuditReassignRole,
		EntityType:  "account",
		EntityID:    accountID,
		Before:      map[string]any{"role_id": oldRoleID},
		After:       map[string]any{"role_id": newRoleID},
		Description: fmt.Sprintf("account %s reassigned from role %s to %s", accountID, oldRoleID, newRoleID),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	}
}

// Query shapes exposed over the audit store.

func (a *AuditLogger) ByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AuditEntry, error) {
	return a.store.Query(ctx, AuditFilter{EntityType: entityType, EntityID: entityID, Limit: limit})
}

func (a *AuditLogger) ByActor(ctx context.Context, actorID string, limit int) ([]*AuditEntry, error) {
	return a.store.Query(ctx, AuditFilter{ActorID: actorID, Limit: limit})
}

func (a *AuditLogger) ByAction(ctx context.Context, action AuditAction, limit int) ([]*AuditEntry, error) {
	return a.store.Query(ctx, AuditFilter{Action: action, Limit: limit})
}

func (a *AuditLogger) List(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	return a.store.Query(ctx, filter)
}

// Cleanup deletes entries older than the given day threshold and returns the
// count removed.
func (a *AuditLogger) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", olderThanDays)
	}
	cutoff := a.now().AddDate(0, 0, -olderThanDays)
	return a.store.DeleteOlderThan(ctx, cutoff)
}
