package ability

import (
	"github.com/oarkflow/ability/utils"
)

// Ability is the compiled, per-user rule set for one point in time. It is
// never persisted and never shared across users: conditions are resolved
// against one concrete user at compile time.
type Ability struct {
	UserID string
	RoleID string
	rules  []*Rule // declaration order, conditions already resolved
}

// Rules returns the resolved rules in declaration order.
func (ab *Ability) Rules() []*Rule {
	return ab.rules
}

// Can reports whether the ability grants the action on a subject kind,
// optionally scoped to a single field.
//
// Conflict resolution: a matching inverted rule forbids the tuple regardless
// of any grant before or after it. Grants only win when no inverted rule
// matched. A rule whose evaluation fails counts as no-match, never as an
// overall failure.
func (ab *Ability) Can(action Action, subject string, field ...string) bool {
	allowed, _ := ab.Query(action, subject, nil, fieldArg(field))
	return allowed
}

// CanInstance is Can against a concrete resource instance: the instance's
// attributes must additionally satisfy every resolved condition of a rule for
// that rule to apply.
func (ab *Ability) CanInstance(action Action, res *Resource, field ...string) bool {
	if res == nil {
		return false
	}
	allowed, _ := ab.Query(action, res.Kind, res, fieldArg(field))
	return allowed
}

// Query evaluates the rule set and also reports the rule that decided the
// outcome, for decision explanations. res may be nil for subject-level checks.
func (ab *Ability) Query(action Action, subject string, res *Resource, field string) (bool, *Rule) {
	if ab == nil {
		return false, nil
	}
	var (
		granted   bool
		grantRule *Rule
	)
	for _, rule := range ab.rules {
		matched := safeRuleMatch(rule, action, subject, res, field)
		if !matched {
			continue
		}
		if rule.Inverted {
			// Forbids are sticky: once matched for this tuple no later
			// grant can flip the outcome.
			return false, rule
		}
		granted = true
		grantRule = rule
	}
	return granted, grantRule
}

func fieldArg(field []string) string {
	if len(field) > 0 {
		return field[0]
	}
	return ""
}

// safeRuleMatch evaluates one rule, converting any panic from a malformed
// condition tree into a no-match.
func safeRuleMatch(rule *Rule, action Action, subject string, res *Resource, field string) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return ruleMatches(rule, action, subject, res, field)
}

func ruleMatches(rule *Rule, action Action, subject string, res *Resource, field string) bool {
	if !actionListMatches(rule.Actions, action) {
		return false
	}
	if !subjectListMatches(rule.Subjects, subject) {
		return false
	}
	if len(rule.Fields) > 0 {
		if field == "" {
			// Field-less check against a field-scoped rule: a scoped forbid
			// carves fields out of a wider grant, it never blankets the
			// whole subject kind. Scoped grants still signal access.
			if rule.Inverted {
				return false
			}
		} else if !containsString(rule.Fields, field) {
			return false
		}
	}
	if len(rule.Conditions) == 0 {
		return true
	}
	if res == nil {
		// Subject-level check: conditioned rules bind to instances only. A
		// conditioned grant still signals "potentially allowed"; a
		// conditioned forbid must not blanket the whole subject kind.
		return !rule.Inverted
	}
	return conditionsMatch(rule.Conditions, "", res)
}

func actionListMatches(actions []Action, requested Action) bool {
	for _, a := range actions {
		if a.Matches(requested) {
			return true
		}
	}
	return false
}

func subjectListMatches(subjects []string, requested string) bool {
	for _, s := range subjects {
		if s == SubjectAll || s == requested {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// conditionsMatch checks every key/value pair of a resolved condition tree
// against the instance attributes. Keys may themselves be dot-paths; nested
// map values recurse with the prefix extended. An Unresolved value never
// matches anything.
func conditionsMatch(conditions map[string]any, prefix string, res *Resource) bool {
	for k, v := range conditions {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch vv := v.(type) {
		case Unresolved:
			return false
		case map[string]any:
			if !conditionsMatch(vv, path, res) {
				return false
			}
		case []any:
			// A sequence condition matches when any member equals the
			// instance value (IN semantics over the restricted grammar).
			actual, ok := res.Attribute(path)
			if !ok {
				return false
			}
			found := false
			for _, item := range vv {
				if _, bad := item.(Unresolved); bad {
					continue
				}
				if utils.EqualValues(actual, item) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			actual, ok := res.Attribute(path)
			if !ok {
				return false
			}
			if !utils.EqualValues(actual, vv) {
				return false
			}
		}
	}
	return true
}
