package sessions

import "time"

// Session binds an opaque client-held token to a user account for a fixed
// window. Expiry is passive: a stale row denies resolution even before the
// sweeper removes it.
type Session struct {
	Token     string    `gorm:"column:token;primaryKey;size:64;not null"`
	UserID    string    `gorm:"column:user_id;size:36;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

// TableName exposes the table backing sessions.
func (Session) TableName() string {
	return "sessions"
}
