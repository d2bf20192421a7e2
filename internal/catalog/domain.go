package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// Permission is one entry of the permission code registry. Codes are
// "resource.action" strings, globally unique and immutable once created.
type Permission struct {
	Code             string    `json:"permissionCode"`
	Resource         string    `json:"resource"`
	Action           string    `json:"action"`
	Description      string    `json:"description,omitempty"`
	IsSystemCritical bool      `json:"isSystemCritical"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SplitCode breaks a permission code into resource and action.
func SplitCode(code string) (resource, action string, err error) {
	code = strings.TrimSpace(strings.ToLower(code))
	idx := strings.LastIndex(code, ".")
	if idx <= 0 || idx == len(code)-1 {
		return "", "", fmt.Errorf("%w: permission code must be resource.action, got %q", shared.ErrValidation, code)
	}
	return code[:idx], code[idx+1:], nil
}

// NormalizeCode lowercases and trims a permission code.
func NormalizeCode(code string) string {
	return strings.TrimSpace(strings.ToLower(code))
}
