package ability

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated marks the absence of a resolved acting user. It is
	// surfaced before any permission logic runs and is distinct from an
	// authorization denial.
	ErrUnauthenticated = errors.New("unauthenticated: no acting user")

	// ErrNoRole marks a user without an assigned role; no ability can be
	// compiled and every check is false.
	ErrNoRole = errors.New("user has no assigned role")

	// ErrResourceNotFound distinguishes a missing resource from an
	// existing-but-not-owned one during ownership checks.
	ErrResourceNotFound = errors.New("resource not found")
)

// PermissionError reports a denied base check, naming the attempted tuple.
// Rule internals (conditions) are deliberately not included: they stay in
// internal logs only.
type PermissionError struct {
	Action  Action
	Subject string
	Field   string
}

func (e *PermissionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("permission denied: cannot %s %s.%s", e.Action, e.Subject, e.Field)
	}
	return fmt.Sprintf("permission denied: cannot %s %s", e.Action, e.Subject)
}

// OwnershipError reports a failed resource-level check where the user exists
// and the resource exists but ownership and override both failed.
type OwnershipError struct {
	UserID  string
	Subject string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("permission denied: user %s is not the owner of this %s and has no override", e.UserID, e.Subject)
}

// MutationError wraps a failed permission/role mutation with the operation
// name and target id. The cause is retained for logs and errors.Is/As but
// callers surface only the operation and target.
type MutationError struct {
	Op     string
	Target string
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s failed for %s", e.Op, e.Target)
}

func (e *MutationError) Unwrap() error { return e.Err }

func newMutationError(op, target string, err error) *MutationError {
	return &MutationError{Op: op, Target: target, Err: err}
}
