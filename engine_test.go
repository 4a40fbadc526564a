package ability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oarkflow/ability"
	"github.com/oarkflow/ability/stores"
)

type fixture struct {
	engine *ability.Engine
	roles  *stores.MemoryRoleSource
	users  *stores.MemoryUserSource
	audit  *stores.MemoryAuditStore
}

func newFixture(t *testing.T, roles ...*ability.Role) *fixture {
	t.Helper()
	f := &fixture{
		roles: stores.NewMemoryRoleSource(),
		users: stores.NewMemoryUserSource(),
		audit: stores.NewMemoryAuditStore(),
	}
	ctx := context.Background()
	for _, r := range roles {
		if err := f.roles.CreateRole(ctx, r); err != nil {
			t.Fatalf("seed role %s: %v", r.ID, err)
		}
	}
	engine, err := ability.NewEngine(f.roles, f.users, f.audit)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	f.engine = engine
	return f
}

func companyAdminRole() *ability.Role {
	return ability.NewRoleBuilder().
		ID("company_admin").Name("Company Admin").
		Rule(ability.NewRuleBuilder().
			ID("ca-manage").
			Actions(ability.ActionManage).
			Subjects("Course", "Payment").
			Condition("companyId", "${user.companyId}").
			Build()).
		Build()
}

func TestCompileAbilityResolvesConditions(t *testing.T) {
	f := newFixture(t, companyAdminRole())
	user := &ability.User{ID: "u1", RoleID: "company_admin", Attrs: map[string]any{"companyId": float64(7)}}

	ab, err := f.engine.CompileAbility(user)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	mine := &ability.Resource{Kind: "Course", Attrs: map[string]any{"companyId": float64(7)}}
	foreign := &ability.Resource{Kind: "Course", Attrs: map[string]any{"companyId": float64(9)}}

	if !ab.CanInstance(ability.ActionUpdate, mine) {
		t.Fatalf("expected company 7 admin to update company 7 course")
	}
	if ab.CanInstance(ability.ActionUpdate, foreign) {
		t.Fatalf("expected company 7 admin denied on company 9 course")
	}
}

func TestCompileAbilityWithoutCompanyAttribute(t *testing.T) {
	f := newFixture(t, companyAdminRole())
	user := &ability.User{ID: "u2", RoleID: "company_admin"}

	ab, err := f.engine.CompileAbility(user)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	res := &ability.Resource{Kind: "Course", Attrs: map[string]any{"companyId": float64(7)}}
	if ab.CanInstance(ability.ActionUpdate, res) {
		t.Fatalf("an unresolved company condition must deny, not widen to all companies")
	}
}

func TestCheckPermissionWithResource(t *testing.T) {
	f := newFixture(t, companyAdminRole())
	user := &ability.User{ID: "u1", RoleID: "company_admin", Attrs: map[string]any{"companyId": float64(7)}}

	mine := &ability.Resource{Kind: "Course", Attrs: map[string]any{"companyId": float64(7)}}
	allowed, err := f.engine.CheckPermissionWithResource(user, ability.ActionUpdate, mine)
	if err != nil || !allowed {
		t.Fatalf("expected update on own-company instance allowed, got %v (%v)", allowed, err)
	}

	foreign := &ability.Resource{Kind: "Course", Attrs: map[string]any{"companyId": float64(9)}}
	allowed, err = f.engine.CheckPermissionWithResource(user, ability.ActionUpdate, foreign)
	if err != nil || allowed {
		t.Fatalf("expected update on foreign-company instance denied, got %v (%v)", allowed, err)
	}

	if _, err := f.engine.CheckPermissionWithResource(nil, ability.ActionUpdate, mine); !errors.Is(err, ability.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for nil user, got %v", err)
	}
}

func TestCompileAbilityNoRole(t *testing.T) {
	f := newFixture(t)
	ab, err := f.engine.CompileAbility(&ability.User{ID: "u3"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if ab != nil {
		t.Fatalf("expected nil ability for a roleless user")
	}

	if _, err := f.engine.CompileAbility(nil); !errors.Is(err, ability.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for nil user, got %v", err)
	}
}

func TestCheckPermission(t *testing.T) {
	f := newFixture(t, companyAdminRole())
	f.users.PutUser(&ability.User{ID: "u1", RoleID: "company_admin", Attrs: map[string]any{"companyId": "7"}})
	ctx := context.Background()

	allowed, err := f.engine.CheckPermission(ctx, "u1", ability.ActionRead, "Course")
	if err != nil || !allowed {
		t.Fatalf("expected subject-level read Course allowed, got %v %v", allowed, err)
	}
	allowed, err = f.engine.CheckPermission(ctx, "u1", ability.ActionRead, "Invoice")
	if err != nil || allowed {
		t.Fatalf("expected read Invoice denied, got %v %v", allowed, err)
	}
	if _, err := f.engine.CheckPermission(ctx, "missing", ability.ActionRead, "Course"); !errors.Is(err, ability.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for unknown user, got %v", err)
	}
}

func TestAddPermissionInvalidatesAndAudits(t *testing.T) {
	f := newFixture(t, &ability.Role{ID: "viewer", Name: "Viewer"})
	ctx := context.Background()
	meta := ability.RequestMeta{ActorID: "admin-1", IP: "10.0.0.1"}

	user := &ability.User{ID: "u1", RoleID: "viewer"}
	ab, _ := f.engine.CompileAbility(user)
	if ab.Can(ability.ActionRead, "Course") {
		t.Fatalf("viewer must start with no permissions")
	}

	rule := ability.NewRuleBuilder().ID("v-read").Actions(ability.ActionRead).Subjects("Course").Build()
	if err := f.engine.AddPermission(ctx, "viewer", rule, meta); err != nil {
		t.Fatalf("add permission: %v", err)
	}

	// The next compile sees the new rule without any manual reload.
	ab, _ = f.engine.CompileAbility(user)
	if !ab.Can(ability.ActionRead, "Course") {
		t.Fatalf("expected new permission visible after mutation")
	}

	entries, err := f.engine.Audit().ByEntity(ctx, "permission", "v-read", 10)
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != ability.AuditGrantPermission || e.ActorID != "admin-1" || e.IP != "10.0.0.1" {
		t.Fatalf("audit entry mismatch: %+v", e)
	}
	if e.After == nil || e.Before != nil {
		t.Fatalf("grant entry must carry after-state only: %+v", e)
	}
}

func TestRemovePermissionInvalidatesAndAudits(t *testing.T) {
	role := &ability.Role{ID: "viewer", Name: "Viewer", Rules: []*ability.Rule{
		{ID: "v-read", Actions: []ability.Action{ability.ActionRead}, Subjects: []string{"Course"}},
	}}
	f := newFixture(t, role)
	ctx := context.Background()

	if err := f.engine.RemovePermission(ctx, "viewer", "v-read", ability.RequestMeta{ActorID: "admin-1"}); err != nil {
		t.Fatalf("remove permission: %v", err)
	}
	ab, _ := f.engine.CompileAbility(&ability.User{ID: "u1", RoleID: "viewer"})
	if ab.Can(ability.ActionRead, "Course") {
		t.Fatalf("expected permission gone after removal")
	}

	entries, _ := f.engine.Audit().ByAction(ctx, ability.AuditRevokePermission, 10)
	if len(entries) != 1 {
		t.Fatalf("expected one revoke audit entry, got %d", len(entries))
	}
	if entries[0].Before == nil {
		t.Fatalf("revoke entry must carry the before-state")
	}
}

func TestUpdatePermissionAudit(t *testing.T) {
	role := &ability.Role{ID: "viewer", Name: "Viewer", Rules: []*ability.Rule{
		{ID: "v-read", Actions: []ability.Action{ability.ActionRead}, Subjects: []string{"Course"}},
	}}
	f := newFixture(t, role)
	ctx := context.Background()

	updated := &ability.Rule{ID: "v-read", Actions: []ability.Action{ability.ActionRead, ability.ActionUpdate}, Subjects: []string{"Course"}}
	if err := f.engine.UpdatePermission(ctx, "viewer", updated, ability.RequestMeta{}); err != nil {
		t.Fatalf("update permission: %v", err)
	}
	ab, _ := f.engine.CompileAbility(&ability.User{ID: "u1", RoleID: "viewer"})
	if !ab.Can(ability.ActionUpdate, "Course") {
		t.Fatalf("expected widened permission visible")
	}

	entries, _ := f.engine.Audit().ByAction(ctx, ability.AuditUpdatePermission, 10)
	if len(entries) != 1 || entries[0].Before == nil || entries[0].After == nil {
		t.Fatalf("update entry must carry before and after states: %+v", entries)
	}
}

func TestRoleLifecycleAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role := &ability.Role{ID: "temp", Name: "Temp"}
	if err := f.engine.CreateRole(ctx, role, ability.RequestMeta{ActorID: "admin-1"}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	role.Name = "Temporary"
	if err := f.engine.UpdateRole(ctx, role, ability.RequestMeta{}); err != nil {
		t.Fatalf("update role: %v", err)
	}
	if err := f.engine.DeleteRole(ctx, "temp", ability.RequestMeta{}); err != nil {
		t.Fatalf("delete role: %v", err)
	}

	entries, _ := f.engine.Audit().ByEntity(ctx, "role", "temp", 10)
	if len(entries) != 3 {
		t.Fatalf("expected create/update/delete audit entries, got %d", len(entries))
	}
}

func TestDeleteRoleDropsItsRules(t *testing.T) {
	role := &ability.Role{ID: "viewer", Name: "Viewer", Rules: []*ability.Rule{
		{ID: "v-read", Actions: []ability.Action{ability.ActionRead}, Subjects: []string{"Course"}},
	}}
	f := newFixture(t, role)
	ctx := context.Background()

	if err := f.engine.DeleteRole(ctx, "viewer", ability.RequestMeta{}); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	ab, err := f.engine.CompileAbility(&ability.User{ID: "u1", RoleID: "viewer"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if ab.Can(ability.ActionRead, "Course") {
		t.Fatalf("rules must die with their role")
	}
}

func TestAuditFailureDoesNotBlockMutation(t *testing.T) {
	f := newFixture(t, &ability.Role{ID: "viewer", Name: "Viewer"})
	f.audit.SetFailing(true)
	ctx := context.Background()

	rule := ability.NewRuleBuilder().ID("v-read").Actions(ability.ActionRead).Subjects("Course").Build()
	if err := f.engine.AddPermission(ctx, "viewer", rule, ability.RequestMeta{}); err != nil {
		t.Fatalf("mutation must succeed despite audit store failure: %v", err)
	}
	ab, _ := f.engine.CompileAbility(&ability.User{ID: "u1", RoleID: "viewer"})
	if !ab.Can(ability.ActionRead, "Course") {
		t.Fatalf("expected permission applied despite audit failure")
	}
}

func TestMutationFailureReturnsMutationError(t *testing.T) {
	f := newFixture(t)
	err := f.engine.AddPermission(context.Background(), "missing-role",
		ability.NewRuleBuilder().ID("x").Actions(ability.ActionRead).Subjects("Course").Build(),
		ability.RequestMeta{})
	if err == nil {
		t.Fatalf("expected failure against a missing role")
	}
	var me *ability.MutationError
	if !errors.As(err, &me) {
		t.Fatalf("expected MutationError, got %T: %v", err, err)
	}
	entries, _ := f.engine.Audit().List(context.Background(), ability.AuditFilter{})
	if len(entries) != 0 {
		t.Fatalf("a failed mutation must not be audited, got %d entries", len(entries))
	}
}

func TestReassignRole(t *testing.T) {
	admin := &ability.Role{ID: "admin", Name: "Admin", Rules: []*ability.Rule{
		{ID: "a1", Actions: []ability.Action{ability.ActionManage}, Subjects: []string{ability.SubjectAll}},
	}}
	f := newFixture(t, admin, &ability.Role{ID: "viewer", Name: "Viewer"})
	f.users.PutUser(&ability.User{ID: "u1", RoleID: "viewer"})
	ctx := context.Background()

	if err := f.engine.ReassignRole(ctx, "u1", "admin", ability.RequestMeta{ActorID: "root"}); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	allowed, err := f.engine.CheckPermission(ctx, "u1", ability.ActionDelete, "Course")
	if err != nil || !allowed {
		t.Fatalf("expected admin powers after reassignment, got %v %v", allowed, err)
	}

	entries, _ := f.engine.Audit().ByEntity(ctx, "account", "u1", 10)
	if len(entries) != 1 || entries[0].Action != ability.AuditReassignRole {
		t.Fatalf("expected one reassign audit entry, got %+v", entries)
	}
}

func TestExplain(t *testing.T) {
	role := &ability.Role{ID: "editor", Name: "Editor", Rules: []*ability.Rule{
		{ID: "e-read", Actions: []ability.Action{ability.ActionRead}, Subjects: []string{"Course"}},
		{ID: "e-del", Actions: []ability.Action{ability.ActionDelete}, Subjects: []string{"Course"}, Inverted: true, Reason: "deletes are audited manually"},
	}}
	f := newFixture(t, role)
	user := &ability.User{ID: "u1", RoleID: "editor"}

	d, err := f.engine.Explain(user, ability.ActionDelete, "Course", nil, "")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if d.Allowed || d.RuleID != "e-del" || d.Reason != "deletes are audited manually" {
		t.Fatalf("expected forbid explanation, got %+v", d)
	}

	d, _ = f.engine.Explain(user, ability.ActionRead, "Course", nil, "")
	if !d.Allowed || d.RuleID != "e-read" {
		t.Fatalf("expected grant explanation, got %+v", d)
	}

	d, _ = f.engine.Explain(user, ability.ActionCreate, "Course", nil, "")
	if d.Allowed || d.Reason != "no matching rule" {
		t.Fatalf("expected no-rule explanation, got %+v", d)
	}
}
