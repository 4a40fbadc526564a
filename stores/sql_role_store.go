package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/ability"
)

// SQLRoleSource persists roles and rules in SQL (squealx). Rules live in
// their own table keyed by role_id; actions, subjects, fields and conditions
// are stored as JSON columns so the schema survives rule-shape evolution.
type SQLRoleSource struct {
	db *squealx.DB
}

func NewSQLRoleSource(db *squealx.DB) *SQLRoleSource {
	return &SQLRoleSource{db: db}
}

func (s *SQLRoleSource) CreateRole(ctx context.Context, r *ability.Role) error {
	q := `INSERT INTO roles(id, name, description, created_at, updated_at) VALUES(:id, :name, :description, :created_at, :updated_at)`
	now := time.Now()
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": r.ID, "name": r.Name, "description": r.Description,
		"created_at": now, "updated_at": now,
	})
	if err != nil {
		return err
	}
	for _, rule := range r.Rules {
		if err := s.CreateRule(ctx, r.ID, rule); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLRoleSource) UpdateRole(ctx context.Context, r *ability.Role) error {
	q := `UPDATE roles SET name=:name, description=:description, updated_at=:updated_at WHERE id=:id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": r.ID, "name": r.Name, "description": r.Description, "updated_at": time.Now(),
	})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("role not found: %s", r.ID)
	}
	// Replace the rule set wholesale; the role document is the unit of update.
	if _, err := s.db.NamedExecContext(ctx, `DELETE FROM rules WHERE role_id = :role_id`, map[string]any{"role_id": r.ID}); err != nil {
		return err
	}
	for _, rule := range r.Rules {
		if err := s.CreateRule(ctx, r.ID, rule); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLRoleSource) DeleteRole(ctx context.Context, id string) error {
	if _, err := s.db.NamedExecContext(ctx, `DELETE FROM rules WHERE role_id = :role_id`, map[string]any{"role_id": id}); err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `DELETE FROM roles WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("role not found: %s", id)
	}
	return nil
}

func (s *SQLRoleSource) GetRole(ctx context.Context, id string) (*ability.Role, error) {
	q := `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role not found: %s", id)
	}
	var idv, name, description string
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&idv, &name, &description, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	role := &ability.Role{ID: idv, Name: name, Description: description}
	role.CreatedAt = scanTime(createdRaw)
	role.UpdatedAt = scanTime(updatedRaw)
	rules, err := s.rulesForRole(ctx, idv)
	if err != nil {
		return nil, err
	}
	role.Rules = rules
	return role, nil
}

func (s *SQLRoleSource) ListRoles(ctx context.Context, filter ability.RoleFilter) ([]*ability.Role, error) {
	var ids []string
	if len(filter.RoleIDs) > 0 {
		ids = filter.RoleIDs
	} else {
		r, err := s.db.NamedQueryContext(ctx, `SELECT id FROM roles ORDER BY id`, map[string]any{})
		if err != nil {
			return nil, err
		}
		for r.Next() {
			var id string
			_ = r.Scan(&id)
			ids = append(ids, id)
		}
		r.Close()
	}
	out := make([]*ability.Role, 0, len(ids))
	for _, id := range ids {
		// Skip ids that vanished between listing and fetching (or filtered
		// ids that never existed); deleted roles simply drop out.
		if role, err := s.GetRole(ctx, id); err == nil {
			out = append(out, role)
		}
	}
	return out, nil
}

func (s *SQLRoleSource) CreateRule(ctx context.Context, roleID string, rule *ability.Rule) error {
	actions, _ := json.Marshal(rule.Actions)
	subjects, _ := json.Marshal(rule.Subjects)
	fields, _ := json.Marshal(rule.Fields)
	conditions, _ := json.Marshal(rule.Conditions)
	q := `INSERT INTO rules(id, role_id, actions_json, subjects_json, fields_json, conditions_json, inverted, reason, created_at, updated_at)
	      VALUES(:id, :role_id, :actions_json, :subjects_json, :fields_json, :conditions_json, :inverted, :reason, :created_at, :updated_at)`
	now := time.Now()
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": rule.ID, "role_id": roleID,
		"actions_json": string(actions), "subjects_json": string(subjects),
		"fields_json": string(fields), "conditions_json": string(conditions),
		"inverted": boolToInt(rule.Inverted), "reason": rule.Reason,
		"created_at": now, "updated_at": now,
	})
	return err
}

func (s *SQLRoleSource) UpdateRule(ctx context.Context, roleID string, rule *ability.Rule) error {
	actions, _ := json.Marshal(rule.Actions)
	subjects, _ := json.Marshal(rule.Subjects)
	fields, _ := json.Marshal(rule.Fields)
	conditions, _ := json.Marshal(rule.Conditions)
	q := `UPDATE rules SET actions_json=:actions_json, subjects_json=:subjects_json, fields_json=:fields_json, conditions_json=:conditions_json, inverted=:inverted, reason=:reason, updated_at=:updated_at WHERE id=:id AND role_id=:role_id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": rule.ID, "role_id": roleID,
		"actions_json": string(actions), "subjects_json": string(subjects),
		"fields_json": string(fields), "conditions_json": string(conditions),
		"inverted": boolToInt(rule.Inverted), "reason": rule.Reason,
		"updated_at": time.Now(),
	})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule not found: %s", rule.ID)
	}
	return nil
}

func (s *SQLRoleSource) DeleteRule(ctx context.Context, roleID, ruleID string) error {
	res, err := s.db.NamedExecContext(ctx, `DELETE FROM rules WHERE id = :id AND role_id = :role_id`, map[string]any{"id": ruleID, "role_id": roleID})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	return nil
}

func (s *SQLRoleSource) rulesForRole(ctx context.Context, roleID string) ([]*ability.Rule, error) {
	q := `SELECT id, role_id, actions_json, subjects_json, fields_json, conditions_json, inverted, reason, created_at, updated_at FROM rules WHERE role_id = :role_id ORDER BY created_at, id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role_id": roleID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*ability.Rule, 0)
	for r.Next() {
		var id, rid, actionsJSON, subjectsJSON, fieldsJSON, conditionsJSON, reason string
		var invertedInt int
		var createdRaw, updatedRaw interface{}
		if err := r.Scan(&id, &rid, &actionsJSON, &subjectsJSON, &fieldsJSON, &conditionsJSON, &invertedInt, &reason, &createdRaw, &updatedRaw); err != nil {
			return nil, err
		}
		rule := &ability.Rule{ID: id, RoleID: rid, Inverted: invertedInt != 0, Reason: reason}
		_ = json.Unmarshal([]byte(actionsJSON), &rule.Actions)
		_ = json.Unmarshal([]byte(subjectsJSON), &rule.Subjects)
		_ = json.Unmarshal([]byte(fieldsJSON), &rule.Fields)
		_ = json.Unmarshal([]byte(conditionsJSON), &rule.Conditions)
		rule.CreatedAt = scanTime(createdRaw)
		rule.UpdatedAt = scanTime(updatedRaw)
		out = append(out, rule)
	}
	return out, nil
}
