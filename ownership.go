package ability

import (
	"strconv"

	"github.com/oarkflow/ability/utils"
)

// ============================================================================
// OWNERSHIP CHECK
// ============================================================================

// DefaultOwnerPath is the owner descriptor used when a resource type does not
// declare its own.
const DefaultOwnerPath = "ownerId"

// OwnershipSpec declares how to find the owner of one resource type: a
// dot-path into the instance attributes, walked with every hop nullable. The
// path may resolve to the raw owner identifier or to an owner object carrying
// its own "id" field.
type OwnershipSpec struct {
	OwnerPath string `json:"owner_path" yaml:"owner_path"`
	// AllowOverride lets a user who is not the owner proceed when their
	// compiled ability grants the action directly against the instance
	// (condition-aware). Defaults to true in CheckOwnership.
	AllowOverride bool `json:"allow_override" yaml:"allow_override"`
}

// OwnershipResult reports the outcome and which gate decided it.
type OwnershipResult struct {
	Allowed    bool
	IsOwner    bool
	ByOverride bool
}

// CheckOwnership determines whether the user owns the resource instance, and
// when not, whether the ability override applies. The action is the
// HTTP-verb-equivalent action re-derived by the caller for this request.
//
// Failure modes are distinct: a nil resource is ErrResourceNotFound, an
// existing resource without ownership or override is an OwnershipError.
func (e *Engine) CheckOwnership(user *User, res *Resource, action Action, spec OwnershipSpec) (*OwnershipResult, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}
	if res == nil {
		return nil, ErrResourceNotFound
	}

	path := spec.OwnerPath
	if path == "" {
		path = DefaultOwnerPath
	}

	if ownerMatches(res, path, user.ID) {
		return &OwnershipResult{Allowed: true, IsOwner: true}, nil
	}

	if spec.AllowOverride {
		ab, err := e.CompileAbility(user)
		if err != nil {
			return nil, err
		}
		if ab != nil && ab.CanInstance(action, res) {
			return &OwnershipResult{Allowed: true, ByOverride: true}, nil
		}
	}

	e.logger.Debug("ownership denied",
		"user_id", user.ID,
		"subject", res.Kind,
		"action", string(action),
		"owner_path", path,
	)
	return nil, &OwnershipError{UserID: user.ID, Subject: res.Kind}
}

// ownerMatches walks the owner path and compares the value it lands on
// against the user id. A path landing on an object compares that object's
// "id" field.
func ownerMatches(res *Resource, path, userID string) bool {
	v, ok := res.Attribute(path)
	if !ok || v == nil {
		return false
	}
	if m, isMap := v.(map[string]any); isMap {
		v, ok = utils.LookupPath(m, "id")
		if !ok || v == nil {
			return false
		}
	}
	return utils.EqualValues(v, userID) || utils.EqualValues(stringify(v), userID)
}

func stringify(v any) any {
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		// JSON-decoded numeric ids compare against string user ids via the
		// canonical integer form when the value is integral.
		if vv == float64(int64(vv)) {
			return strconv.FormatInt(int64(vv), 10)
		}
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	}
	return v
}
