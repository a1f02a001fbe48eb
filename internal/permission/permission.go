package permission

import (
	"strings"
	"time"

	"github.com/frahmantamala/memory-permissions/internal"
	permissionDatamodel "github.com/frahmantamala/memory-permissions/internal/core/datamodel/permission"
)

// Kind is one of the fixed access rights on a memory.
type Kind string

const (
	KindEdit     Kind = "Edit"
	KindDelete   Kind = "Delete"
	KindOwner    Kind = "Owner"
	KindSubjects Kind = "Subjects"
)

var allKinds = []Kind{KindEdit, KindDelete, KindOwner, KindSubjects}

// labels maps lower-cased input labels, including the localized ones clients
// of the first release still send, to a Kind.
var labels = map[string]Kind{
	"edit":        KindEdit,
	"edición":     KindEdit,
	"edicion":     KindEdit,
	"delete":      KindDelete,
	"eliminar":    KindDelete,
	"owner":       KindOwner,
	"propietario": KindOwner,
	"subjects":    KindSubjects,
	"asignaturas": KindSubjects,
}

func ParseKind(label string) (Kind, error) {
	if k, ok := labels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return k, nil
	}
	return "", internal.NewInvalidPermissionError(label)
}

// ParseKinds translates every label, failing on the first unknown one.
func ParseKinds(in []string) (Set, error) {
	kinds := make([]Kind, 0, len(in))
	for _, label := range in {
		k, err := ParseKind(label)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return NewSet(kinds...), nil
}

func AvailableKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Set is an ordered collection of distinct kinds. Order is first-seen and
// carries no meaning.
type Set []Kind

func NewSet(kinds ...Kind) Set {
	out := make(Set, 0, len(kinds))
	for _, k := range kinds {
		if !out.Contains(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s Set) Contains(k Kind) bool {
	for _, existing := range s {
		if existing == k {
			return true
		}
	}
	return false
}

func (s Set) Union(other Set) Set {
	return NewSet(append(append(Set{}, s...), other...)...)
}

func (s Set) Difference(other Set) Set {
	out := make(Set, 0, len(s))
	for _, k := range s {
		if !other.Contains(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, k := range s {
		out[i] = string(k)
	}
	return out
}

func setFromStrings(in []string) Set {
	kinds := make([]Kind, 0, len(in))
	for _, label := range in {
		if k, err := ParseKind(label); err == nil {
			kinds = append(kinds, k)
		}
	}
	return NewSet(kinds...)
}

// Grant is the set of kinds one user holds on one memory.
type Grant struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	MemoryID    string    `json:"memoryId"`
	AssignedBy  string    `json:"assignedBy"`
	Permissions Set       `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func ToDataModel(g *Grant) *permissionDatamodel.MemoryPermission {
	return &permissionDatamodel.MemoryPermission{
		ID:          g.ID,
		UserID:      g.UserID,
		MemoryID:    g.MemoryID,
		AssignedBy:  g.AssignedBy,
		Permissions: g.Permissions.Strings(),
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

func FromDataModel(p *permissionDatamodel.MemoryPermission) *Grant {
	if p == nil {
		return nil
	}
	return &Grant{
		ID:          p.ID,
		UserID:      p.UserID,
		MemoryID:    p.MemoryID,
		AssignedBy:  p.AssignedBy,
		Permissions: setFromStrings(p.Permissions),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
