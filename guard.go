package ability

import (
	"context"
	"strings"
)

// ============================================================================
// PERMISSION GUARD
// ============================================================================

// Operation is the explicit per-operation permission configuration, attached
// at registration time and read by the guard before dispatch. No runtime
// reflection: subject inference is a declared mapping, never guessed from a
// URL's accidental shape.
type Operation struct {
	Name          string `json:"name" yaml:"name"`
	Action        Action `json:"action" yaml:"action"`
	Subject       string `json:"subject,omitempty" yaml:"subject,omitempty"` // empty: inferred from ResourcePath
	Field         string `json:"field,omitempty" yaml:"field,omitempty"`
	ResourcePath  string `json:"resource_path,omitempty" yaml:"resource_path,omitempty"`
	ResourceCheck bool   `json:"resource_check,omitempty" yaml:"resource_check,omitempty"`
	Public        bool   `json:"public,omitempty" yaml:"public,omitempty"`
}

// GuardResult is the guard's verdict for one protected operation.
type GuardResult struct {
	Allowed bool
	// NeedsOwnership signals the caller to fetch the concrete resource and
	// run the ownership check; the guard never touches application storage.
	NeedsOwnership bool
	Subject        string
}

// Guard is the enforcement layer invoked per protected operation.
type Guard struct {
	engine *Engine
	logger Logger

	// subjectByPath maps a declared resource path ("/courses") to the
	// protected subject kind ("Course"). Registered explicitly.
	subjectByPath map[string]string
}

func NewGuard(engine *Engine, logger Logger) *Guard {
	if logger == nil {
		logger = NopLogger()
	}
	return &Guard{
		engine:        engine,
		logger:        logger,
		subjectByPath: make(map[string]string),
	}
}

// RegisterSubject declares the deterministic resource-path to subject
// mapping used when an operation does not name its subject explicitly.
func (g *Guard) RegisterSubject(resourcePath, subject string) {
	g.subjectByPath[normalizePath(resourcePath)] = subject
}

// Authorize enforces an operation for the acting user.
//
// Public operations pass unconditionally. Otherwise the user must be
// resolved (nil user is unauthenticated, not unauthorized), the compiled
// ability must grant the base action/subject/field tuple, and operations
// marked ResourceCheck additionally signal the caller to run the ownership
// check against the concrete resource.
func (g *Guard) Authorize(ctx context.Context, user *User, op Operation) (*GuardResult, error) {
	if op.Public {
		return &GuardResult{Allowed: true}, nil
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}

	subject, err := g.resolveSubject(op)
	if err != nil {
		return nil, err
	}

	ab, err := g.engine.CompileAbility(user)
	if err != nil {
		return nil, err
	}
	if ab == nil || !ab.Can(op.Action, subject, op.Field) {
		g.logger.Debug("guard denied",
			"user_id", user.ID,
			"operation", op.Name,
			"action", string(op.Action),
			"subject", subject,
			"field", op.Field,
		)
		return nil, &PermissionError{Action: op.Action, Subject: subject, Field: op.Field}
	}

	return &GuardResult{
		Allowed:        true,
		NeedsOwnership: op.ResourceCheck,
		Subject:        subject,
	}, nil
}

// AuthorizeByID is Authorize with user resolution from the account model.
func (g *Guard) AuthorizeByID(ctx context.Context, userID string, op Operation) (*GuardResult, error) {
	if op.Public {
		return &GuardResult{Allowed: true}, nil
	}
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	user, err := g.engine.userSource.GetUser(ctx, userID)
	if err != nil || user == nil {
		return nil, ErrUnauthenticated
	}
	return g.Authorize(ctx, user, op)
}

func (g *Guard) resolveSubject(op Operation) (string, error) {
	if op.Subject != "" {
		return op.Subject, nil
	}
	if s, ok := g.subjectByPath[normalizePath(op.ResourcePath)]; ok {
		return s, nil
	}
	return "", &PermissionError{Action: op.Action, Subject: op.ResourcePath, Field: op.Field}
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
