package ability

import (
	"reflect"
	"testing"
)

func TestResolveTemplateAgainstUser(t *testing.T) {
	cr := NewConditionResolver(NopLogger())
	user := &User{ID: "u1", RoleID: "r1", Attrs: map[string]any{"companyId": float64(7)}}

	out := cr.Resolve(map[string]any{"companyId": "${user.companyId}"}, user)
	if got := out["companyId"]; got != float64(7) {
		t.Fatalf("expected companyId resolved to 7, got %#v", got)
	}
}

func TestResolveNestedPathAndTree(t *testing.T) {
	cr := NewConditionResolver(NopLogger())
	user := &User{ID: "u1", Attrs: map[string]any{
		"profile": map[string]any{"company": map[string]any{"id": "acme"}},
	}}

	out := cr.Resolve(map[string]any{
		"company": map[string]any{"id": "${user.profile.company.id}"},
		"status":  []any{"draft", "${user.profile.company.id}"},
	}, user)

	company, _ := out["company"].(map[string]any)
	if company == nil || company["id"] != "acme" {
		t.Fatalf("expected nested template resolved, got %#v", out["company"])
	}
	status, _ := out["status"].([]any)
	if len(status) != 2 || status[1] != "acme" {
		t.Fatalf("expected sequence member resolved, got %#v", out["status"])
	}
}

func TestResolveIdentityFields(t *testing.T) {
	cr := NewConditionResolver(NopLogger())
	user := &User{ID: "u42", RoleID: "editor"}

	out := cr.Resolve(map[string]any{"ownerId": "${user.id}"}, user)
	if out["ownerId"] != "u42" {
		t.Fatalf("expected ${user.id} to resolve to user id, got %#v", out["ownerId"])
	}
}

func TestMissingAttributeBecomesUnresolved(t *testing.T) {
	cr := NewConditionResolver(NopLogger())
	user := &User{ID: "u1", Attrs: map[string]any{}}

	out := cr.Resolve(map[string]any{"companyId": "${user.companyId}"}, user)
	u, ok := out["companyId"].(Unresolved)
	if !ok {
		t.Fatalf("expected Unresolved marker, got %#v", out["companyId"])
	}
	if u.Path != "companyId" {
		t.Fatalf("expected path companyId, got %q", u.Path)
	}
}

func TestNonTemplateValuesPassThrough(t *testing.T) {
	cr := NewConditionResolver(NopLogger())
	user := &User{ID: "u1"}

	in := map[string]any{"archived": true, "count": float64(3), "name": "plain"}
	out := cr.Resolve(in, user)
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("literal conditions must pass through unchanged: %#v", out)
	}
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	cr := NewConditionResolver(NopLogger())
	user := &User{ID: "u1", Attrs: map[string]any{"companyId": "7"}}

	in := map[string]any{"companyId": "${user.companyId}"}
	_ = cr.Resolve(in, user)
	if in["companyId"] != "${user.companyId}" {
		t.Fatalf("Resolve must not mutate the shared rule conditions")
	}
}

func TestExtractTemplateVariables(t *testing.T) {
	cr := NewConditionResolver(NopLogger())
	conds := map[string]any{
		"companyId": "${user.companyId}",
		"owner":     map[string]any{"id": "${user.id}"},
		"again":     "${user.companyId}",
		"plain":     "literal",
	}
	got := cr.ExtractTemplateVariables(conds)
	want := []string{"user.companyId", "user.id"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if !cr.HasTemplateVariables(conds) {
		t.Fatalf("expected template variables detected")
	}
	if cr.HasTemplateVariables(map[string]any{"plain": 1}) {
		t.Fatalf("expected no template variables")
	}
}

func TestValidateTemplateVariables(t *testing.T) {
	cr := NewConditionResolver(NopLogger())
	user := &User{ID: "u1", Attrs: map[string]any{"companyId": "7"}}
	conds := map[string]any{
		"companyId": "${user.companyId}",
		"teamId":    "${user.teamId}",
	}
	missing := cr.ValidateTemplateVariables(conds, user)
	if len(missing) != 1 || missing[0] != "user.teamId" {
		t.Fatalf("expected user.teamId reported missing, got %v", missing)
	}
}
