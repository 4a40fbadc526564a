package ability

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/ability/utils"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Action is a member of the closed CRUD action enumeration. ActionManage is a
// wildcard covering every other action.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// KnownActions lists every concrete (non-wildcard) action.
var KnownActions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// IsValid reports whether a is a member of the action enumeration.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage:
		return true
	}
	return false
}

// Matches reports whether a rule action covers the requested action.
func (a Action) Matches(requested Action) bool {
	return a == ActionManage || a == requested
}

// SubjectAll is the wildcard subject matching every protected resource kind.
const SubjectAll = "all"

// Rule is one permission row: an action+subject grant or forbid, optionally
// scoped to specific fields and to instances satisfying the conditions map.
// Leaf string values in Conditions may be template expressions of the form
// ${path.to.user.attribute}, resolved per user at ability-compile time.
type Rule struct {
	ID         string         `json:"id" yaml:"id"`
	RoleID     string         `json:"role_id,omitempty" yaml:"role_id,omitempty"`
	Actions    []Action       `json:"actions" yaml:"actions"`
	Subjects   []string       `json:"subjects" yaml:"subjects"`
	Fields     []string       `json:"fields,omitempty" yaml:"fields,omitempty"`
	Conditions map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Inverted   bool           `json:"inverted,omitempty" yaml:"inverted,omitempty"`
	Reason     string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Validate enforces the rule invariant: actions and subjects are never empty
// and actions are members of the closed enumeration.
func (r *Rule) Validate() error {
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %s: at least one action is required", r.ID)
	}
	if len(r.Subjects) == 0 {
		return fmt.Errorf("rule %s: at least one subject is required", r.ID)
	}
	for _, a := range r.Actions {
		if !a.IsValid() {
			return fmt.Errorf("rule %s: unknown action %q", r.ID, a)
		}
	}
	return nil
}

// Clone returns a deep copy. Rules handed out of the store are copies so a
// caller can never mutate the cached rule set.
func (r *Rule) Clone() *Rule {
	dup := *r
	dup.Actions = append([]Action(nil), r.Actions...)
	dup.Subjects = append([]string(nil), r.Subjects...)
	dup.Fields = append([]string(nil), r.Fields...)
	dup.Conditions = cloneConditionTree(r.Conditions)
	return &dup
}

// Snapshot renders the rule as a plain map for audit before/after records.
func (r *Rule) Snapshot() map[string]any {
	data, _ := json.Marshal(r)
	out := map[string]any{}
	_ = json.Unmarshal(data, &out)
	return out
}

func cloneConditionTree(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneConditionValue(v)
	}
	return out
}

func cloneConditionValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return cloneConditionTree(vv)
	case []any:
		dup := make([]any, len(vv))
		for i, item := range vv {
			dup[i] = cloneConditionValue(item)
		}
		return dup
	default:
		return v
	}
}

// Role is a named, ordered set of permission rules. Deleting a role deletes
// its rules with it.
type Role struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Rules       []*Rule   `json:"rules" yaml:"rules"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Clone returns a deep copy of the role and its rules.
func (r *Role) Clone() *Role {
	dup := *r
	dup.Rules = make([]*Rule, len(r.Rules))
	for i, rule := range r.Rules {
		dup.Rules[i] = rule.Clone()
	}
	return &dup
}

// Snapshot renders the role (without its rules) for audit records.
func (r *Role) Snapshot() map[string]any {
	return map[string]any{
		"id":          r.ID,
		"name":        r.Name,
		"description": r.Description,
		"rule_count":  len(r.Rules),
	}
}

// User is the acting account: exactly one role plus an open attribute graph
// used as the resolution context for condition templates.
type User struct {
	ID     string         `json:"id" yaml:"id"`
	RoleID string         `json:"role_id" yaml:"role_id"`
	Attrs  map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Attribute walks a dot-separated path through the user's attribute graph.
// "id" and "role_id" resolve to the identity fields; everything else starts
// at the attribute map. A missing hop returns (nil, false).
func (u *User) Attribute(path string) (any, bool) {
	if u == nil {
		return nil, false
	}
	switch path {
	case "id":
		return u.ID, true
	case "role_id", "roleId":
		return u.RoleID, true
	}
	return utils.LookupPath(u.Attrs, path)
}

// Resource is a concrete instance of a protected resource kind, carried as a
// kind tag plus an open attribute map. can() checks against instances compare
// resolved rule conditions against these attributes.
type Resource struct {
	Kind  string         `json:"kind"`
	Attrs map[string]any `json:"attrs"`
}

// Attribute walks a dot-separated path through the instance attributes.
func (r *Resource) Attribute(path string) (any, bool) {
	if r == nil {
		return nil, false
	}
	return utils.LookupPath(r.Attrs, path)
}

// normalizeStringList wraps a scalar storage value into a slice. The durable
// model may hold either a single value or a JSON array for actions/subjects.
func normalizeStringList(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		var arr []string
		if err := json.Unmarshal([]byte(v), &arr); err == nil {
			return arr
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// NormalizeActions converts raw storage actions into the []Action form.
func NormalizeActions(raw any) []Action {
	parts := normalizeStringList(raw)
	out := make([]Action, 0, len(parts))
	for _, p := range parts {
		out = append(out, Action(p))
	}
	return out
}

// NormalizeSubjects converts raw storage subjects into the []string form.
func NormalizeSubjects(raw any) []string {
	return normalizeStringList(raw)
}
