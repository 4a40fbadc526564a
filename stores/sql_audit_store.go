package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/ability"
)

// SQLAuditStore persists audit entries in SQL. Rows are append-only; the only
// destructive operation is retention cleanup.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) Insert(ctx context.Context, entry *ability.AuditEntry) error {
	beforeB, _ := json.Marshal(entry.Before)
	afterB, _ := json.Marshal(entry.After)
	metaB, _ := json.Marshal(entry.Metadata)
	q := `INSERT INTO audit_log(id, created_at, actor_id, action, entity_type, entity_id, before_json, after_json, ip, user_agent, metadata_json)
	      VALUES(:id, :created_at, :actor_id, :action, :entity_type, :entity_id, :before_json, :after_json, :ip, :user_agent, :metadata_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            entry.ID,
		"created_at":    entry.CreatedAt,
		"actor_id":      entry.ActorID,
		"action":        string(entry.Action),
		"entity_type":   entry.EntityType,
		"entity_id":     entry.EntityID,
		"before_json":   string(beforeB),
		"after_json":    string(afterB),
		"ip":            entry.IP,
		"user_agent":    entry.UserAgent,
		"metadata_json": string(metaB),
	})
	return err
}

func (s *SQLAuditStore) Query(ctx context.Context, filter ability.AuditFilter) ([]*ability.AuditEntry, error) {
	q := `SELECT id, created_at, actor_id, action, entity_type, entity_id, before_json, after_json, ip, user_agent, metadata_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.EntityType != "" {
		q += " AND entity_type = :entity_type"
		params["entity_type"] = filter.EntityType
	}
	if filter.EntityID != "" {
		q += " AND entity_id = :entity_id"
		params["entity_id"] = filter.EntityID
	}
	if filter.ActorID != "" {
		q += " AND actor_id = :actor_id"
		params["actor_id"] = filter.ActorID
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if !filter.Since.IsZero() {
		q += " AND created_at >= :since"
		params["since"] = filter.Since
	}
	if !filter.Until.IsZero() {
		q += " AND created_at <= :until"
		params["until"] = filter.Until
	}
	q += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	if filter.Offset > 0 {
		q += " OFFSET :offset"
		params["offset"] = filter.Offset
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*ability.AuditEntry, 0)
	for r.Next() {
		var id, actorID, action, entityType, entityID, beforeJSON, afterJSON, ip, userAgent, metaJSON string
		var createdRaw interface{}
		if err := r.Scan(&id, &createdRaw, &actorID, &action, &entityType, &entityID, &beforeJSON, &afterJSON, &ip, &userAgent, &metaJSON); err != nil {
			return nil, err
		}
		entry := &ability.AuditEntry{
			ID:         id,
			ActorID:    actorID,
			Action:     ability.AuditAction(action),
			EntityType: entityType,
			EntityID:   entityID,
			IP:         ip,
			UserAgent:  userAgent,
		}
		entry.CreatedAt = scanTime(createdRaw)
		_ = json.Unmarshal([]byte(beforeJSON), &entry.Before)
		_ = json.Unmarshal([]byte(afterJSON), &entry.After)
		_ = json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		out = append(out, entry)
	}
	return out, nil
}

func (s *SQLAuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.NamedExecContext(ctx, `DELETE FROM audit_log WHERE created_at < :cutoff`, map[string]any{"cutoff": cutoff})
	if err != nil {
		return 0, err
	}
	// Some drivers cannot report affected rows; the delete still happened.
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
