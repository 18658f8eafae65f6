// Package errs defines common error variables used across the application.
package errs

import "errors"

var (
	// ErrServiceClosed indicates that the service is closed and cannot accept new downloads.
	ErrServiceClosed = errors.New("service is closed")
	// ErrInvalidRequestBody indicates that the request body is invalid or cannot be parsed.
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// Valid request errors.
var (
	// ErrInvalidURL indicates that the url field is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url field")
	// ErrInvalidPlatform indicates that the platform field is not a supported platform.
	ErrInvalidPlatform = errors.New("invalid platform field")
	// ErrInvalidUsername indicates that the signup username is empty or too long.
	ErrInvalidUsername = errors.New("invalid username field")
	// ErrInvalidEmail indicates that the signup email does not parse.
	ErrInvalidEmail = errors.New("invalid email field")
	// ErrInvalidPassword indicates that the signup password is empty or too long.
	ErrInvalidPassword = errors.New("invalid password field")
)

// Auth errors.
var (
	// ErrUnauthorized indicates a missing, malformed, expired or badly signed token.
	ErrUnauthorized = errors.New("could not validate credentials")
	// ErrBadCredentials indicates a login with an unknown user or a wrong password.
	ErrBadCredentials = errors.New("incorrect username or password")
	// ErrInactiveUser indicates the token subject is disabled.
	ErrInactiveUser = errors.New("inactive user")
	// ErrRateLimited indicates the client exceeded its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// User store errors.
var (
	// ErrUserNotFound indicates that no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists indicates that the username is already registered.
	ErrUserExists = errors.New("username already registered")
	// ErrUserNil indicates that the user is nil.
	ErrUserNil = errors.New("user is nil")
	// ErrStoreUnavailable indicates that the user store cannot be reached.
	ErrStoreUnavailable = errors.New("user store unavailable")
)

// Download errors.
var (
	// ErrJobQueueFull indicates that the download queue is full.
	ErrJobQueueFull = errors.New("job queue is full")
	// ErrJobAbandoned indicates the caller went away before the download started.
	ErrJobAbandoned = errors.New("job abandoned")
	// ErrDownloadFailed indicates that the download failed.
	ErrDownloadFailed = errors.New("download failed")
	// ErrBackendNotFound indicates that no backend is registered for the platform.
	ErrBackendNotFound = errors.New("no backend for platform")
	// ErrNoOutput indicates the backend reported success without a usable file.
	ErrNoOutput = errors.New("no output file")
	// ErrOutsideWorkspace indicates the backend produced a path outside the workspace.
	ErrOutsideWorkspace = errors.New("output outside workspace")
	// ErrUnexpectedFormat indicates the backend output is not an mp4 file.
	ErrUnexpectedFormat = errors.New("unexpected output format")
	// ErrNoStreams indicates that no stream matched the requested format.
	ErrNoStreams = errors.New("no matching streams")
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrUnsupportedPlatform indicates that the current OS/arch has no binary download.
	ErrUnsupportedPlatform = errors.New("unsupported os/arch")
)
