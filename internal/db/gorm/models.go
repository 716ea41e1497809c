package gorm

import "time"

// UserRow is the schema of the users table.
type UserRow struct {
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt *time.Time
	Name      string `gorm:"type:text;not null;index:idx_users_name"`
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Age       int64  `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (UserRow) TableName() string { return "users" }
