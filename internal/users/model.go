package users

import (
	"strings"
	"time"
)

// User is one local account. Profile fields are filled from the first
// provider login and never overwritten by later logins.
type User struct {
	ID          string    `gorm:"column:id;primaryKey;size:36;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Email       string    `gorm:"column:email;size:320"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Identity maps a provider-assigned subject to a local user id. The composite
// primary key is the uniqueness constraint that makes find-or-create safe
// under concurrent first logins.
type Identity struct {
	Provider  string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject   string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;size:36;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing provider identities.
func (Identity) TableName() string {
	return "user_identities"
}

// normalize value helper used across store implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
