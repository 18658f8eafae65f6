// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Platform is a supported source platform.
type Platform string

const (
	// PlatformYouTube routes to the youtube backend.
	PlatformYouTube Platform = "youtube"
	// PlatformInstagram routes to the generic backend.
	PlatformInstagram Platform = "instagram"
	// PlatformTikTok routes to the generic backend.
	PlatformTikTok Platform = "tiktok"
	// PlatformTwitter routes to the generic backend.
	PlatformTwitter Platform = "twitter"
	// PlatformFacebook routes to the generic backend.
	PlatformFacebook Platform = "facebook"
)

var platforms = []Platform{
	PlatformYouTube,
	PlatformInstagram,
	PlatformTikTok,
	PlatformTwitter,
	PlatformFacebook,
}

// Platforms returns every supported platform in a fresh slice.
func Platforms() []Platform {
	out := make([]Platform, len(platforms))
	copy(out, platforms)

	return out
}

// ParsePlatform matches s exactly against the supported set.
func ParsePlatform(s string) (Platform, bool) {
	for _, p := range platforms {
		if string(p) == s {
			return p, true
		}
	}

	return "", false
}

// QualityBest is the default quality hint.
const QualityBest = "best"

// DownloadRequest is a validated download call.
type DownloadRequest struct {
	URL      string   `json:"url"`
	Platform Platform `json:"platform"`
	Quality  string   `json:"quality"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r DownloadRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", r.URL),
		slog.String("platform", string(r.Platform)),
		slog.String("quality", r.Quality),
	)
}

// User is an account allowed to call authenticated routes.
type User struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	IsSuperuser    bool      `json:"is_superuser"`
	CreatedAt      time.Time `json:"created_at"`
}

// LogValue implements the slog.LogValuer interface and never logs the hash.
func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID.String()),
		slog.String("username", u.Username),
		slog.Bool("active", u.IsActive),
		slog.Bool("superuser", u.IsSuperuser),
	)
}

// StoredUser is the persisted form of User, including the password hash.
type StoredUser struct {
	User

	HashedPassword string `json:"hashed_password"`
}

// Stored returns the persisted form of u.
func (u User) Stored() StoredUser {
	return StoredUser{User: u, HashedPassword: u.HashedPassword}
}

// Unwrap returns the User with its hash restored.
func (s StoredUser) Unwrap() User {
	u := s.User
	u.HashedPassword = s.HashedPassword

	return u
}
