package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/atlas-hcm/atlas-authz/internal/catalog"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// PermissionChecker answers whether a permission code is registered.
type PermissionChecker interface {
	Get(ctx context.Context, code string) (catalog.Permission, error)
}

// UserChecker answers whether a user exists in the directory.
type UserChecker interface {
	RequireUser(ctx context.Context, userID int64) error
}

// RoleGrantLookup lists the permission codes a role grants right now,
// including inherited ones. Used to flag direct assignments that a role
// operation in the same batch already covers.
type RoleGrantLookup interface {
	RolePermissionCodes(ctx context.Context, roleID int64) ([]string, error)
}

// Validator runs all pre-mutation checks for a batch.
type Validator struct {
	validate    *validator.Validate
	permissions PermissionChecker
	users       UserChecker
	roles       RoleGrantLookup
}

// NewValidator constructs a batch validator.
func NewValidator(permissions PermissionChecker, users UserChecker, roles RoleGrantLookup) *Validator {
	return &Validator{
		validate:    validator.New(),
		permissions: permissions,
		users:       users,
		roles:       roles,
	}
}

// Validate checks every operation and the batch as a whole. It performs no
// mutations. Errors block execution; warnings do not.
func (v *Validator) Validate(ctx context.Context, ops []AssignmentOperation) (ValidationResult, error) {
	var result ValidationResult
	if len(ops) == 0 {
		result.Errors = append(result.Errors, ValidationIssue{
			Index: -1, Code: IssueMalformed, Severity: IssueError,
			Message: "batch contains no operations",
		})
		return result, nil
	}

	checkedUsers := map[int64]error{}
	checkedPerms := map[string]error{}

	for i, op := range ops {
		if err := v.validate.Struct(op); err != nil {
			result.Errors = append(result.Errors, ValidationIssue{
				Index: i, Code: IssueMalformed, Severity: IssueError,
				Message: err.Error(),
			})
			continue
		}
		if msg := shapeIssue(op); msg != "" {
			result.Errors = append(result.Errors, ValidationIssue{
				Index: i, Code: IssueMalformed, Severity: IssueError, Message: msg,
			})
			continue
		}

		userErr, seen := checkedUsers[op.UserID]
		if !seen {
			userErr = v.users.RequireUser(ctx, op.UserID)
			checkedUsers[op.UserID] = userErr
		}
		switch {
		case errors.Is(userErr, shared.ErrNotFound):
			result.Errors = append(result.Errors, ValidationIssue{
				Index: i, Code: IssueUnknownUser, Severity: IssueError,
				Message: fmt.Sprintf("user %d does not exist", op.UserID),
			})
		case userErr != nil:
			return ValidationResult{}, userErr
		}

		if code := op.PermissionCode; code != "" {
			permErr, seen := checkedPerms[code]
			if !seen {
				_, permErr = v.permissions.Get(ctx, code)
				checkedPerms[code] = permErr
			}
			switch {
			case errors.Is(permErr, shared.ErrNotFound):
				result.Errors = append(result.Errors, ValidationIssue{
					Index: i, Code: IssueUnknownPermission, Severity: IssueError,
					Message: fmt.Sprintf("permission %q is not registered", code),
				})
			case permErr != nil:
				return ValidationResult{}, permErr
			}
		}
	}

	result.Warnings = append(result.Warnings, v.duplicateWarnings(ops)...)
	result.Warnings = append(result.Warnings, v.orderingWarnings(ops)...)
	overlaps, err := v.overlapWarnings(ctx, ops)
	if err != nil {
		return ValidationResult{}, err
	}
	result.Warnings = append(result.Warnings, overlaps...)

	result.Valid = len(result.Errors) == 0
	return result, nil
}

// shapeIssue enforces kind-specific field requirements that struct tags cannot
// express.
func shapeIssue(op AssignmentOperation) string {
	switch op.Kind {
	case OpAssign, OpRevoke, OpOverrideClear:
		if op.PermissionCode == "" {
			return fmt.Sprintf("%s requires permissionCode", op.Kind)
		}
	case OpOverrideSet:
		if op.PermissionCode == "" {
			return "override_set requires permissionCode"
		}
		if op.Decision == nil {
			return "override_set requires decision"
		}
	case OpRoleAssign, OpRoleRevoke:
		if op.RoleID == 0 {
			return fmt.Sprintf("%s requires roleId", op.Kind)
		}
	}
	return ""
}

func (v *Validator) duplicateWarnings(ops []AssignmentOperation) []ValidationIssue {
	seen := map[string]int{}
	var issues []ValidationIssue
	for i, op := range ops {
		key := fmt.Sprintf("%s|%d|%s|%d", op.Kind, op.UserID, op.PermissionCode, op.RoleID)
		if first, ok := seen[key]; ok {
			issues = append(issues, ValidationIssue{
				Index: i, Code: IssueDuplicateOperation, Severity: IssueWarning,
				Message: fmt.Sprintf("duplicates operation at index %d", first),
			})
			continue
		}
		seen[key] = i
	}
	return issues
}

// orderingWarnings flags a revoke that precedes an assign of the same target,
// which fails at execution time with not-found unless the assignment already
// exists.
func (v *Validator) orderingWarnings(ops []AssignmentOperation) []ValidationIssue {
	type target struct {
		userID int64
		code   string
		roleID int64
	}
	assignIdx := map[target]int{}
	for i, op := range ops {
		if op.Kind == OpAssign || op.Kind == OpRoleAssign {
			t := target{op.UserID, op.PermissionCode, op.RoleID}
			if _, ok := assignIdx[t]; !ok {
				assignIdx[t] = i
			}
		}
	}
	var issues []ValidationIssue
	for i, op := range ops {
		if op.Kind != OpRevoke && op.Kind != OpRoleRevoke {
			continue
		}
		t := target{op.UserID, op.PermissionCode, op.RoleID}
		if later, ok := assignIdx[t]; ok && later > i {
			issues = append(issues, ValidationIssue{
				Index: i, Code: IssueRevokeBeforeAssign, Severity: IssueWarning,
				Message: fmt.Sprintf("revoke precedes the matching assign at index %d", later),
			})
		}
	}
	return issues
}

// overlapWarnings flags direct assigns whose permission a role_assign in the
// same batch already grants for the same user.
func (v *Validator) overlapWarnings(ctx context.Context, ops []AssignmentOperation) ([]ValidationIssue, error) {
	grantsByUser := map[int64]map[string]int64{}
	for _, op := range ops {
		if op.Kind != OpRoleAssign || op.RoleID == 0 {
			continue
		}
		codes, err := v.roles.RolePermissionCodes(ctx, op.RoleID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return nil, err
		}
		byCode := grantsByUser[op.UserID]
		if byCode == nil {
			byCode = map[string]int64{}
			grantsByUser[op.UserID] = byCode
		}
		for _, code := range codes {
			byCode[code] = op.RoleID
		}
	}
	if len(grantsByUser) == 0 {
		return nil, nil
	}

	var issues []ValidationIssue
	for i, op := range ops {
		if op.Kind != OpAssign {
			continue
		}
		if roleID, ok := grantsByUser[op.UserID][op.PermissionCode]; ok {
			issues = append(issues, ValidationIssue{
				Index: i, Code: IssueRoleOverlap, Severity: IssueWarning,
				Message: fmt.Sprintf("role %d assigned in this batch already grants %q", roleID, op.PermissionCode),
			})
		}
	}
	sort.Slice(issues, func(a, b int) bool { return issues[a].Index < issues[b].Index })
	return issues, nil
}
