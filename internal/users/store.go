package users

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/tauth/backend/internal/providers"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidIdentity indicates the exchanged identity lacked a usable
	// provider or subject.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrNotFound indicates no user exists under the requested id.
	ErrNotFound = errors.New("users: user not found")
)

// StoreConfig describes the dependencies required for identity reconciliation.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider func() string
}

// Store persists user accounts and their provider identity bindings.
type Store struct {
	db    *gorm.DB
	newID func() string
	cache sync.Map
}

// NewStore constructs the identity store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	newID := cfg.IDProvider
	if newID == nil {
		newID = uuid.NewString
	}
	return &Store{
		db:    cfg.Database,
		newID: newID,
		cache: sync.Map{},
	}, nil
}

// FindOrCreate resolves the exchanged provider identity to a local user,
// creating the account on first login. Creation claims the (provider,
// subject) binding with an insert-if-absent, so concurrent first logins for
// the same identity produce exactly one user and every caller observes the
// winner's record. Profile fields are first-write-wins: repeat logins return
// the stored account unmodified.
func (s *Store) FindOrCreate(ctx context.Context, identity providers.Identity) (User, error) {
	provider := normalize(identity.Provider)
	subject := normalize(identity.Subject)
	if provider == "" || subject == "" {
		return User{}, ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if userID, ok := cached.(string); ok {
			if user, err := s.GetByID(ctx, userID); err == nil {
				return user, nil
			}
		}
	}

	user, err := s.lookup(ctx, provider, subject)
	if err == nil {
		s.cache.Store(cacheKey, user.ID)
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	fresh := User{
		ID:          s.newID(),
		DisplayName: normalize(identity.DisplayName),
		Email:       normalize(identity.Email),
		AvatarURL:   normalize(identity.AvatarURL),
	}
	binding := Identity{Provider: provider, Subject: subject, UserID: fresh.ID}

	claimed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&binding)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// a concurrent login claimed the binding first
			return nil
		}
		claimed = true
		return tx.Create(&fresh).Error
	})
	if err != nil {
		return User{}, err
	}

	if !claimed {
		user, err = s.lookup(ctx, provider, subject)
		if err != nil {
			return User{}, err
		}
		s.cache.Store(cacheKey, user.ID)
		return user, nil
	}

	s.cache.Store(cacheKey, fresh.ID)
	return fresh, nil
}

// GetByID fetches a user account by its local id.
func (s *Store) GetByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Store) lookup(ctx context.Context, provider, subject string) (User, error) {
	var binding Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&binding).
		Error
	if err != nil {
		return User{}, err
	}

	var user User
	err = s.db.WithContext(ctx).Where("id = ?", binding.UserID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("users: identity %s:%s references missing user %s", provider, subject, binding.UserID)
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}
