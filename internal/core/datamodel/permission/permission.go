package permission

import "time"

// MemoryPermission is one grant row; (user_id, memory_id) is unique.
type MemoryPermission struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	UserID      string    `gorm:"column:user_id;type:varchar(36);not null;uniqueIndex:idx_memory_permissions_user_memory,priority:1"`
	MemoryID    string    `gorm:"column:memory_id;not null;uniqueIndex:idx_memory_permissions_user_memory,priority:2;index"`
	AssignedBy  string    `gorm:"column:assigned_by;type:varchar(36);not null"`
	Permissions []string  `gorm:"column:permissions;serializer:json;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (MemoryPermission) TableName() string {
	return "memory_permissions"
}
