package sessions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tauth/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultTTL is the session lifetime applied when none is configured.
const DefaultTTL = 24 * time.Hour

var (
	// ErrUnauthenticated indicates the token resolves to no live session.
	// Absence and expiry are expected outcomes, not faults.
	ErrUnauthenticated = errors.New("sessions: no valid session")

	errMissingDatabase  = errors.New("sessions: database connection required")
	errMissingUserStore = errors.New("sessions: user store required")
	errMissingUserID    = errors.New("sessions: user id required")
)

// UserResolver dereferences a stored user id to its account record.
type UserResolver interface {
	GetByID(ctx context.Context, id string) (users.User, error)
}

// ManagerConfig describes the dependencies required for session lifecycle.
type ManagerConfig struct {
	Database *gorm.DB
	Users    UserResolver
	TTL      time.Duration
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Manager issues, resolves, and invalidates opaque session tokens.
type Manager struct {
	db     *gorm.DB
	users  UserResolver
	ttl    time.Duration
	logger *zap.Logger
	clock  func() time.Time
}

// NewManager constructs a session manager with sane defaults.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Users == nil {
		return nil, errMissingUserStore
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		db:     cfg.Database,
		users:  cfg.Users,
		ttl:    ttl,
		logger: logger,
		clock:  clock,
	}, nil
}

// Create persists a fresh session for the user and returns its opaque token.
func (m *Manager) Create(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errMissingUserID
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := m.clock().UTC()
	record := Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", err
	}
	return token, nil
}

// Resolve maps a token back to its user. Absent or expired sessions yield
// ErrUnauthenticated. A live session whose user record has vanished is an
// inconsistent-state fault: it is logged, the session is invalidated, and the
// error is surfaced to the caller.
func (m *Manager) Resolve(ctx context.Context, token string) (users.User, error) {
	if strings.TrimSpace(token) == "" {
		return users.User{}, ErrUnauthenticated
	}

	var record Session
	err := m.db.WithContext(ctx).Where("token = ?", token).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return users.User{}, ErrUnauthenticated
	}
	if err != nil {
		return users.User{}, err
	}

	if !m.clock().UTC().Before(record.ExpiresAt) {
		if err := m.Invalidate(ctx, token); err != nil {
			m.logger.Warn("failed to remove expired session", zap.Error(err))
		}
		return users.User{}, ErrUnauthenticated
	}

	user, err := m.users.GetByID(ctx, record.UserID)
	if errors.Is(err, users.ErrNotFound) {
		m.logger.Error("session references missing user",
			zap.String("user_id", record.UserID))
		if err := m.Invalidate(ctx, token); err != nil {
			m.logger.Warn("failed to invalidate dangling session", zap.Error(err))
		}
		return users.User{}, fmt.Errorf("sessions: user %s missing for live session", record.UserID)
	}
	if err != nil {
		return users.User{}, err
	}
	return user, nil
}

// Invalidate deletes the session unconditionally. Invalidating an absent
// token is a no-op.
func (m *Manager) Invalidate(ctx context.Context, token string) error {
	return m.db.WithContext(ctx).Where("token = ?", token).Delete(&Session{}).Error
}

// PurgeExpired removes sessions past their expiry and reports how many rows
// were deleted.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	result := m.db.WithContext(ctx).
		Where("expires_at <= ?", m.clock().UTC()).
		Delete(&Session{})
	return result.RowsAffected, result.Error
}

func generateToken() (string, error) {
	buffer := make([]byte, 32)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
