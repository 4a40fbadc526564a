package ability

// Builders provide a fluent API for assembling Roles and Rules, mostly used
// by config seeding and tests.

// RuleBuilder builds a Rule.
type RuleBuilder struct {
	r *Rule
}

func NewRuleBuilder() *RuleBuilder {
	return &RuleBuilder{r: &Rule{Actions: []Action{}, Subjects: []string{}}}
}

func (b *RuleBuilder) ID(id string) *RuleBuilder { b.r.ID = id; return b }
func (b *RuleBuilder) Actions(a ...Action) *RuleBuilder {
	b.r.Actions = append(b.r.Actions, a...)
	return b
}
func (b *RuleBuilder) Subjects(s ...string) *RuleBuilder {
	b.r.Subjects = append(b.r.Subjects, s...)
	return b
}
func (b *RuleBuilder) Fields(f ...string) *RuleBuilder {
	b.r.Fields = append(b.r.Fields, f...)
	return b
}
func (b *RuleBuilder) Condition(key string, value any) *RuleBuilder {
	if b.r.Conditions == nil {
		b.r.Conditions = map[string]any{}
	}
	b.r.Conditions[key] = value
	return b
}
func (b *RuleBuilder) Inverted() *RuleBuilder            { b.r.Inverted = true; return b }
func (b *RuleBuilder) Reason(reason string) *RuleBuilder { b.r.Reason = reason; return b }
func (b *RuleBuilder) Build() *Rule                      { return b.r }

// RoleBuilder builds a Role.
type RoleBuilder struct {
	role *Role
}

func NewRoleBuilder() *RoleBuilder {
	return &RoleBuilder{role: &Role{Rules: []*Rule{}}}
}

func (b *RoleBuilder) ID(id string) *RoleBuilder      { b.role.ID = id; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder     { b.role.Name = n; return b }
func (b *RoleBuilder) Describe(d string) *RoleBuilder { b.role.Description = d; return b }
func (b *RoleBuilder) Rule(r *Rule) *RoleBuilder {
	b.role.Rules = append(b.role.Rules, r)
	return b
}
func (b *RoleBuilder) Build() *Role { return b.role }
