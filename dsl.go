package ability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DSL Syntax (one statement per line, '#' comments):
//   role <id> <name> ["description"]
//   grant <role> <actions> <subjects> [fields:f1,f2] [where k=v;k2=${user.x}] [reason:"..."]
//   forbid <role> <actions> <subjects> [fields:...] [where ...] [reason:"..."]
//
// Actions and subjects are comma-separated lists; "manage" and "all" are the
// wildcards. Condition values keep ${...} template expressions verbatim:
// resolution happens at ability-compile time, not parse time.

type DSLParser struct {
	line int
}

func NewDSLParser() *DSLParser {
	return &DSLParser{}
}

// Parse reads a DSL document into a Config. Rules append to the role they
// name, in declaration order.
func (p *DSLParser) Parse(input string) (*Config, error) {
	cfg := &Config{Version: 1}
	byID := map[string]*Role{}
	ruleSeq := 0

	for i, raw := range strings.Split(input, "\n") {
		p.line = i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields, err := splitQuoted(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}
		switch fields[0] {
		case "role":
			if len(fields) < 3 {
				return nil, fmt.Errorf("line %d: role needs <id> <name>", p.line)
			}
			role := &Role{ID: fields[1], Name: fields[2]}
			if len(fields) > 3 {
				role.Description = fields[3]
			}
			if byID[role.ID] != nil {
				return nil, fmt.Errorf("line %d: duplicate role %s", p.line, role.ID)
			}
			byID[role.ID] = role
			cfg.Roles = append(cfg.Roles, role)
		case "grant", "forbid":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: %s needs <role> <actions> <subjects>", p.line, fields[0])
			}
			role := byID[fields[1]]
			if role == nil {
				return nil, fmt.Errorf("line %d: unknown role %s", p.line, fields[1])
			}
			ruleSeq++
			rule := &Rule{
				ID:       fmt.Sprintf("%s-rule-%d", role.ID, ruleSeq),
				RoleID:   role.ID,
				Actions:  NormalizeActions(splitList(fields[2])),
				Subjects: splitList(fields[3]),
				Inverted: fields[0] == "forbid",
			}
			opts := fields[4:]
			for j := 0; j < len(opts); j++ {
				opt := opts[j]
				// "where" takes the following token as its condition list.
				if opt == "where" {
					if j+1 >= len(opts) {
						return nil, fmt.Errorf("line %d: where clause is empty", p.line)
					}
					j++
					opt = "where " + opts[j]
				}
				if err := p.applyRuleOption(rule, opt); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			}
			if err := rule.Validate(); err != nil {
				return nil, fmt.Errorf("line %d: %w", p.line, err)
			}
			role.Rules = append(role.Rules, rule)
		default:
			return nil, fmt.Errorf("line %d: unknown statement %q", p.line, fields[0])
		}
	}
	return cfg, nil
}

func (p *DSLParser) applyRuleOption(rule *Rule, opt string) error {
	switch {
	case strings.HasPrefix(opt, "fields:"):
		rule.Fields = splitList(strings.TrimPrefix(opt, "fields:"))
	case strings.HasPrefix(opt, "where"):
		conds, err := parseConditionList(strings.TrimSpace(strings.TrimPrefix(opt, "where")))
		if err != nil {
			return err
		}
		rule.Conditions = conds
	case strings.HasPrefix(opt, "reason:"):
		rule.Reason = strings.Trim(strings.TrimPrefix(opt, "reason:"), `"`)
	case strings.HasPrefix(opt, "id:"):
		rule.ID = strings.TrimPrefix(opt, "id:")
	default:
		return fmt.Errorf("unknown rule option %q", opt)
	}
	return nil
}

// parseConditionList parses "k=v;k2=v2" into a condition map. Values stay
// strings (template expressions included); "true"/"false" become booleans and
// bare integers become numbers so equality semantics match JSON-decoded rules.
func parseConditionList(s string) (map[string]any, error) {
	if s == "" {
		return nil, fmt.Errorf("where clause is empty")
	}
	out := map[string]any{}
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.IndexByte(pair, '=')
		if idx <= 0 {
			return nil, fmt.Errorf("bad condition %q, want key=value", pair)
		}
		key := strings.TrimSpace(pair[:idx])
		out[key] = coerceScalar(strings.TrimSpace(pair[idx+1:]))
	}
	return out, nil
}

func coerceScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if templateRe.MatchString(s) {
		return s
	}
	if n, ok := parseNumber(s); ok {
		return n
	}
	return strings.Trim(s, `"`)
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitQuoted splits on spaces, keeping double-quoted segments and
// bracketed option values ([reason:"two words"]) intact.
func splitQuoted(line string) ([]string, error) {
	var out []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			inQuote = !inQuote
		case ch == ' ' && !inQuote:
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(ch)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty statement")
	}
	return out, nil
}

// DSLEncoder renders a Config back into DSL text.
type DSLEncoder struct{}

func NewDSLEncoder() *DSLEncoder { return &DSLEncoder{} }

func (e *DSLEncoder) Encode(cfg *Config) string {
	var b strings.Builder
	for _, role := range cfg.Roles {
		b.WriteString("role ")
		b.WriteString(role.ID)
		b.WriteByte(' ')
		b.WriteString(role.Name)
		if role.Description != "" {
			b.WriteString(` "`)
			b.WriteString(role.Description)
			b.WriteByte('"')
		}
		b.WriteByte('\n')
		for _, rule := range role.Rules {
			if rule.Inverted {
				b.WriteString("forbid ")
			} else {
				b.WriteString("grant ")
			}
			b.WriteString(role.ID)
			b.WriteByte(' ')
			b.WriteString(joinActions(rule.Actions))
			b.WriteByte(' ')
			b.WriteString(strings.Join(rule.Subjects, ","))
			if len(rule.Fields) > 0 {
				b.WriteString(" fields:")
				b.WriteString(strings.Join(rule.Fields, ","))
			}
			if len(rule.Conditions) > 0 {
				b.WriteString(" where ")
				b.WriteString(encodeConditionList(rule.Conditions))
			}
			if rule.Reason != "" {
				b.WriteString(` reason:"`)
				b.WriteString(rule.Reason)
				b.WriteByte('"')
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func joinActions(actions []Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}

func encodeConditionList(conds map[string]any) string {
	keys := make([]string, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, conds[k]))
	}
	return strings.Join(parts, ";")
}
