// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultJobTimeout bounds one resolve call when no timeout is configured.
	DefaultJobTimeout = 10 * time.Minute
	// DefaultJobWorkers is the default number of download workers.
	DefaultJobWorkers = 4
	// DefaultQueueSize is the default size of the download queue.
	DefaultQueueSize = 16
	// DefaultSimulateTime is the time the mock backend pretends to download.
	DefaultSimulateTime = 200 * time.Millisecond
	// DefaultWorkspaceMaxAge is the age after which inactive workspaces are swept.
	DefaultWorkspaceMaxAge = 2 * time.Hour
	// DefaultBcryptCost is used when the configured cost is out of range.
	DefaultBcryptCost = 10
	// DefaultTokenTTL is the access token lifetime when none is configured.
	DefaultTokenTTL = 30 * time.Minute
)

// HTTP response messages.
const (
	// RespWelcome is the root endpoint greeting.
	RespWelcome = "Welcome to Social Media Video Downloader API"
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespUnauthorized is returned when the bearer token is missing or invalid.
	RespUnauthorized = "Could not validate credentials"
	// RespBadCredentials is returned on a failed login.
	RespBadCredentials = "Incorrect username or password"
	// RespInactiveUser is returned when a disabled user calls an authenticated route.
	RespInactiveUser = "Inactive user"
	// RespUsernameTaken is returned when signup reuses a username.
	RespUsernameTaken = "The user with this username already exists in the system"
	// RespSignupFailed is returned when the user cannot be created.
	RespSignupFailed = "signup failed"
	// RespDownloadFailed is returned when the orchestrator fails.
	RespDownloadFailed = "download failed"
	// RespServiceUnavailable is returned when the download service cannot accept work.
	RespServiceUnavailable = "service unavailable"
	// RespRateLimited is returned when a client exceeds its budget.
	RespRateLimited = "rate limit exceeded"
	// RespInternalError is returned for recovered panics and unexpected errors.
	RespInternalError = "internal server error"
)

// Backend identifiers.
const (
	// BackendYTdlp is the generic yt-dlp backend identifier.
	BackendYTdlp = "ytdlp"
	// BackendYouTube is the youtube backend identifier.
	BackendYouTube = "youtube"
	// BackendMock is the mock backend identifier for testing.
	BackendMock = "mock"
)

// Binary names resolved by the dependency manager.
const (
	BinYTdlp   = "yt-dlp"
	BinFFmpeg  = "ffmpeg"
	BinFFprobe = "ffprobe"
)

// Health statuses.
const (
	HealthHealthy        = "healthy"
	HealthUnhealthy      = "unhealthy"
	HealthDBConnected    = "connected"
	HealthDBDisconnected = "disconnected"
)

// TokenTypeBearer is the token_type of issued access tokens.
const TokenTypeBearer = "bearer"
