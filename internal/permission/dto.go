package permission

import "github.com/frahmantamala/memory-permissions/internal/core/common/validation"

// AssignDTO accepts resourceId as an alias of memoryId; a memoryId in the URL
// path wins over both.
type AssignDTO struct {
	MemoryID    string   `json:"memoryId"`
	ResourceID  string   `json:"resourceId"`
	UserID      string   `json:"userId"`
	Permissions []string `json:"permissions"`
}

// RevokeDTO also accepts the kinds under "permissions".
type RevokeDTO struct {
	MemoryID            string   `json:"memoryId"`
	ResourceID          string   `json:"resourceId"`
	UserID              string   `json:"userId"`
	PermissionsToRevoke []string `json:"permissionsToRevoke"`
	Permissions         []string `json:"permissions"`
}

// grantChange is the normalized form both requests are validated in.
type grantChange struct {
	MemoryID    string   `json:"memoryId" validate:"required"`
	UserID      string   `json:"userId" validate:"required"`
	Permissions []string `json:"permissions" validate:"required,min=1"`
}

var grantChangeMessages = validation.Messages{
	"memoryId":    "memoryId is required",
	"userId":      "userId is required",
	"permissions": "permissions are required",
}

func (d AssignDTO) normalize(pathMemoryID string) grantChange {
	return grantChange{
		MemoryID:    firstNonEmpty(pathMemoryID, d.MemoryID, d.ResourceID),
		UserID:      d.UserID,
		Permissions: d.Permissions,
	}
}

func (d RevokeDTO) normalize(pathMemoryID string) grantChange {
	kinds := d.PermissionsToRevoke
	if len(kinds) == 0 {
		kinds = d.Permissions
	}
	return grantChange{
		MemoryID:    firstNonEmpty(pathMemoryID, d.MemoryID, d.ResourceID),
		UserID:      d.UserID,
		Permissions: kinds,
	}
}

func (g grantChange) validate() error {
	return validation.Struct(g, grantChangeMessages)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type MemoryPermissionsResponse struct {
	MemoryID    string `json:"memoryId"`
	Permissions Set    `json:"permissions"`
}
