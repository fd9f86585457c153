package links

import (
	"errors"
	"time"
)

var (
	ErrLinkNotFound    = errors.New("link not found")
	ErrLinkExpired     = errors.New("link expired")
	ErrLinkInactive    = errors.New("link is no longer active")
	ErrInvalidPassword = errors.New("invalid password")
)

// Link is a token-addressed share link to a CRM resource.
type Link struct {
	ID             string         `json:"id" db:"id"`
	Token          string         `json:"token" db:"token"`
	LinkType       string         `json:"linkType" db:"link_type"`
	ResourceID     *string        `json:"resourceId,omitempty" db:"resource_id"`
	Title          string         `json:"title" db:"title"`
	Description    *string        `json:"description,omitempty" db:"description"`
	PasswordHash   *string        `json:"-" db:"password_hash"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty" db:"expires_at"`
	CreatedBy      *string        `json:"createdBy,omitempty" db:"created_by"`
	Metadata       map[string]any `json:"metadata,omitempty" db:"metadata"`
	IsActive       bool           `json:"isActive" db:"is_active"`
	AccessCount    int            `json:"accessCount" db:"access_count"`
	LastAccessedAt *time.Time     `json:"lastAccessedAt,omitempty" db:"last_accessed_at"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`

	URL string `json:"url" db:"-"`
}

// HasPassword reports whether the link is password protected.
func (l *Link) HasPassword() bool {
	return l.PasswordHash != nil && *l.PasswordHash != ""
}

// Expired reports whether the link's expiry is at or before now.
func (l *Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// CreateRequest describes a link to create. ExpiresInDays of zero means the link never expires.
type CreateRequest struct {
	LinkType      string         `json:"linkType" validate:"required"`
	ResourceID    string         `json:"resourceId,omitempty"`
	Title         string         `json:"title" validate:"required"`
	Description   string         `json:"description,omitempty"`
	ExpiresInDays int            `json:"expiresInDays" validate:"gte=0"`
	Password      string         `json:"password,omitempty" validate:"omitempty,min=4,max=72"`
	CreatedBy     string         `json:"createdBy,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
