// Package profile persists local user profiles and their OAuth token bundles.
// The default backend is one file per profile; a Redis backend can be selected
// via environment for setups that already run one.
package profile

import (
	"time"

	"pidash/internal/types"
)

// TokenBundle is the OAuth state owned by exactly one profile. It is created
// on a successful code exchange, mutated in place on refresh, and deleted on
// logout or profile deletion.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type Profile struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	CreatedAt   time.Time         `json:"created_at"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

func (p *Profile) Validate() error {
	if p.ID == "" {
		return types.Err(types.ErrValidation, nil, "profile id is required")
	}
	if p.Name == "" {
		return types.Err(types.ErrValidation, nil, "profile name is required")
	}
	if len(p.Name) > 64 {
		return types.Err(types.ErrValidation, nil, "profile name must be at most 64 characters")
	}
	return nil
}

// record is the persisted shape: the profile plus its token bundle, if any.
type record struct {
	Profile *Profile     `json:"profile"`
	Token   *TokenBundle `json:"token,omitempty"`
}

// Store is the persistence boundary. Implementations MUST return
// types.ErrNotFound for absent profiles and tokens.
type Store interface {
	SaveProfile(p *Profile) error
	GetProfile(id string) (*Profile, error)
	ListProfiles() ([]*Profile, error)
	DeleteProfile(id string) error

	SaveToken(profileID string, b *TokenBundle) error
	LoadToken(profileID string) (*TokenBundle, error)
	DeleteToken(profileID string) error

	GetActive() (string, error)
	SetActive(id string) error

	Close() error
}

func notFound(id string) error {
	return types.Err(types.ErrNotFound, nil, "profile %s", id)
}
