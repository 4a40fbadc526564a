package ability

import (
	"regexp"
	"sort"
	"strings"
)

// templateRe matches a string leaf that is exactly one template expression,
// e.g. "${user.companyId}" or "${profile.company.id}".
var templateRe = regexp.MustCompile(`^\$\{(.+)\}$`)

// Unresolved marks a condition value whose template expression did not
// resolve against the acting user. An unresolved condition never matches any
// instance: it degrades to unsatisfiable, not to a wildcard.
type Unresolved struct {
	Path string
}

// ConditionResolver substitutes ${...} template expressions in a rule's
// condition tree with concrete values from the acting user's attribute graph.
type ConditionResolver struct {
	logger Logger
}

func NewConditionResolver(logger Logger) *ConditionResolver {
	return &ConditionResolver{logger: logger}
}

// Resolve walks the condition tree and replaces every template leaf with the
// user attribute it names. Missing attributes resolve to Unresolved values.
// If resolution of the tree as a whole panics, the original unresolved tree
// is returned so a broken resolver can never crash the authorization path.
func (cr *ConditionResolver) Resolve(conditions map[string]any, user *User) (out map[string]any) {
	if len(conditions) == 0 {
		return conditions
	}
	defer func() {
		if r := recover(); r != nil {
			if cr.logger != nil {
				cr.logger.Error("condition resolution failed, using unresolved conditions", "panic", r)
			}
			out = conditions
		}
	}()
	return cr.resolveTree(conditions, user)
}

func (cr *ConditionResolver) resolveTree(tree map[string]any, user *User) map[string]any {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		out[k] = cr.resolveValue(v, user)
	}
	return out
}

func (cr *ConditionResolver) resolveValue(v any, user *User) any {
	switch vv := v.(type) {
	case string:
		m := templateRe.FindStringSubmatch(vv)
		if m == nil {
			return vv
		}
		path := strings.TrimPrefix(m[1], "user.")
		resolved, ok := user.Attribute(path)
		if !ok || resolved == nil {
			return Unresolved{Path: path}
		}
		return resolved
	case map[string]any:
		return cr.resolveTree(vv, user)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = cr.resolveValue(item, user)
		}
		return out
	default:
		return v
	}
}

// HasTemplateVariables reports whether any leaf of the condition tree is a
// template expression.
func (cr *ConditionResolver) HasTemplateVariables(conditions map[string]any) bool {
	return len(cr.ExtractTemplateVariables(conditions)) > 0
}

// ExtractTemplateVariables returns the distinct template paths found in the
// condition tree, sorted for stable output.
func (cr *ConditionResolver) ExtractTemplateVariables(conditions map[string]any) []string {
	seen := map[string]bool{}
	var walk func(v any)
	walk = func(v any) {
		switch vv := v.(type) {
		case string:
			if m := templateRe.FindStringSubmatch(vv); m != nil {
				seen[m[1]] = true
			}
		case map[string]any:
			for _, item := range vv {
				walk(item)
			}
		case []any:
			for _, item := range vv {
				walk(item)
			}
		}
	}
	for _, v := range conditions {
		walk(v)
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ValidateTemplateVariables returns the subset of extracted template paths
// that resolve to nothing for the given user. Used for pre-flight
// diagnostics, never for enforcement.
func (cr *ConditionResolver) ValidateTemplateVariables(conditions map[string]any, user *User) []string {
	var missing []string
	for _, raw := range cr.ExtractTemplateVariables(conditions) {
		path := strings.TrimPrefix(raw, "user.")
		if v, ok := user.Attribute(path); !ok || v == nil {
			missing = append(missing, raw)
		}
	}
	return missing
}
