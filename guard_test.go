package ability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oarkflow/ability"
)

func editorFixture(t *testing.T) *fixture {
	t.Helper()
	editor := &ability.Role{ID: "editor", Name: "Editor", Rules: []*ability.Rule{
		{ID: "e-read", Actions: []ability.Action{ability.ActionRead}, Subjects: []string{"Course"}},
		{ID: "e-upd", Actions: []ability.Action{ability.ActionUpdate}, Subjects: []string{"Course"}},
	}}
	return newFixture(t, editor)
}

func TestGuardPublicOperation(t *testing.T) {
	f := editorFixture(t)
	g := ability.NewGuard(f.engine, ability.NopLogger())

	res, err := g.Authorize(context.Background(), nil, ability.Operation{Name: "health", Public: true})
	if err != nil || !res.Allowed {
		t.Fatalf("public operation must pass without a user: %v", err)
	}
}

func TestGuardUnauthenticatedVsUnauthorized(t *testing.T) {
	f := editorFixture(t)
	g := ability.NewGuard(f.engine, ability.NopLogger())
	op := ability.Operation{Name: "deleteCourse", Action: ability.ActionDelete, Subject: "Course"}

	if _, err := g.Authorize(context.Background(), nil, op); !errors.Is(err, ability.ErrUnauthenticated) {
		t.Fatalf("nil user must be unauthenticated, got %v", err)
	}

	user := &ability.User{ID: "u1", RoleID: "editor"}
	_, err := g.Authorize(context.Background(), user, op)
	var pe *ability.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("known user without the permission must be unauthorized, got %v", err)
	}
	if pe.Action != ability.ActionDelete || pe.Subject != "Course" {
		t.Fatalf("permission error must name the denied tuple: %+v", pe)
	}
}

func TestGuardAllows(t *testing.T) {
	f := editorFixture(t)
	g := ability.NewGuard(f.engine, ability.NopLogger())
	user := &ability.User{ID: "u1", RoleID: "editor"}

	res, err := g.Authorize(context.Background(), user, ability.Operation{
		Name: "getCourse", Action: ability.ActionRead, Subject: "Course",
	})
	if err != nil || !res.Allowed {
		t.Fatalf("expected read Course allowed: %v", err)
	}
	if res.NeedsOwnership {
		t.Fatalf("ownership must not be requested unless declared")
	}
}

func TestGuardOwnershipFlag(t *testing.T) {
	f := editorFixture(t)
	g := ability.NewGuard(f.engine, ability.NopLogger())
	user := &ability.User{ID: "u1", RoleID: "editor"}

	res, err := g.Authorize(context.Background(), user, ability.Operation{
		Name: "updateCourse", Action: ability.ActionUpdate, Subject: "Course", ResourceCheck: true,
	})
	if err != nil || !res.Allowed {
		t.Fatalf("expected update Course allowed: %v", err)
	}
	if !res.NeedsOwnership {
		t.Fatalf("declared resource check must surface in the result")
	}
}

func TestGuardSubjectInference(t *testing.T) {
	f := editorFixture(t)
	g := ability.NewGuard(f.engine, ability.NopLogger())
	g.RegisterSubject("/courses", "Course")
	user := &ability.User{ID: "u1", RoleID: "editor"}

	res, err := g.Authorize(context.Background(), user, ability.Operation{
		Name: "listCourses", Action: ability.ActionRead, ResourcePath: "/courses/",
	})
	if err != nil || !res.Allowed || res.Subject != "Course" {
		t.Fatalf("expected subject inferred from registered path, got %+v (%v)", res, err)
	}

	// Unregistered path cannot be guessed.
	if _, err := g.Authorize(context.Background(), user, ability.Operation{
		Name: "listThings", Action: ability.ActionRead, ResourcePath: "/things",
	}); err == nil {
		t.Fatalf("expected denial for unregistered resource path")
	}
}

func TestGuardAuthorizeByID(t *testing.T) {
	f := editorFixture(t)
	f.users.PutUser(&ability.User{ID: "u1", RoleID: "editor"})
	g := ability.NewGuard(f.engine, ability.NopLogger())
	op := ability.Operation{Name: "getCourse", Action: ability.ActionRead, Subject: "Course"}

	res, err := g.AuthorizeByID(context.Background(), "u1", op)
	if err != nil || !res.Allowed {
		t.Fatalf("expected resolution by id to allow: %v", err)
	}
	if _, err := g.AuthorizeByID(context.Background(), "", op); !errors.Is(err, ability.ErrUnauthenticated) {
		t.Fatalf("empty user id must be unauthenticated, got %v", err)
	}
	if _, err := g.AuthorizeByID(context.Background(), "ghost", op); !errors.Is(err, ability.ErrUnauthenticated) {
		t.Fatalf("unknown user id must be unauthenticated, got %v", err)
	}
}

func TestGuardRolelessUserUnauthorized(t *testing.T) {
	f := editorFixture(t)
	g := ability.NewGuard(f.engine, ability.NopLogger())

	_, err := g.Authorize(context.Background(), &ability.User{ID: "u9"}, ability.Operation{
		Name: "getCourse", Action: ability.ActionRead, Subject: "Course",
	})
	var pe *ability.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("a roleless user is authenticated but unauthorized, got %v", err)
	}
}
