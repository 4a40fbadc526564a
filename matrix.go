package ability

import (
	"context"
	"sort"
)

// ============================================================================
// PERMISSION MATRIX INTROSPECTION
// ============================================================================

// CellState classifies one subject x action cell for a role.
type CellState string

const (
	CellGranted     CellState = "granted"
	CellForbidden   CellState = "forbidden"
	CellConditional CellState = "conditional"
	CellNone        CellState = "none"
)

// MatrixCell is one subject x action combination for one role, with the rule
// that backs it and the rule's human reason.
type MatrixCell struct {
	Subject string    `json:"subject"`
	Action  Action    `json:"action"`
	State   CellState `json:"state"`
	RuleID  string    `json:"rule_id,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// RoleMatrix is the full permission matrix for one role.
type RoleMatrix struct {
	RoleID string       `json:"role_id"`
	Cells  []MatrixCell `json:"cells"`
}

// PermissionMatrix enumerates every subject x action combination across the
// given subjects and, per cached role, classifies each cell. Forbids shadow
// grants the same way the evaluator resolves them.
func (e *Engine) PermissionMatrix(ctx context.Context, subjects []string) ([]*RoleMatrix, error) {
	roleIDs := e.ruleStore.RoleIDs()
	if !e.ruleStore.Loaded() {
		return nil, ErrStoreNotLoaded
	}
	sort.Strings(roleIDs)

	out := make([]*RoleMatrix, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		rules, err := e.ruleStore.Rules(roleID)
		if err != nil {
			return nil, err
		}
		rm := &RoleMatrix{RoleID: roleID}
		for _, subject := range subjects {
			for _, action := range KnownActions {
				rm.Cells = append(rm.Cells, classifyCell(rules, subject, action))
			}
		}
		out = append(out, rm)
	}
	return out, nil
}

func classifyCell(rules []*Rule, subject string, action Action) MatrixCell {
	cell := MatrixCell{Subject: subject, Action: action, State: CellNone}
	conditionalForbid := false
	for _, rule := range rules {
		if !actionListMatches(rule.Actions, action) || !subjectListMatches(rule.Subjects, subject) {
			continue
		}
		switch {
		case rule.Inverted && len(rule.Conditions) == 0:
			// Blanket forbid: final for this tuple.
			return MatrixCell{Subject: subject, Action: action, State: CellForbidden, RuleID: rule.ID, Reason: rule.Reason}
		case rule.Inverted:
			// The grant only holds for instances outside the forbid's
			// conditions, so the cell is at best conditional.
			conditionalForbid = true
			cell = MatrixCell{Subject: subject, Action: action, State: CellConditional, RuleID: rule.ID, Reason: rule.Reason}
		case len(rule.Conditions) > 0:
			if cell.State != CellGranted {
				cell = MatrixCell{Subject: subject, Action: action, State: CellConditional, RuleID: rule.ID, Reason: rule.Reason}
			}
		default:
			if !conditionalForbid {
				cell = MatrixCell{Subject: subject, Action: action, State: CellGranted, RuleID: rule.ID, Reason: rule.Reason}
			}
		}
	}
	return cell
}
