// Package request decodes and validates HTTP inputs.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"vidgrab/internal/entity"
	"vidgrab/internal/errs"
	"vidgrab/pkg/urls"
)

// Download is the body of POST /api/v1/download.
type Download struct {
	URL      string `json:"url"`
	Platform string `json:"platform"`
	Quality  string `json:"quality"`
}

// Validate returns the request the orchestrator runs.
func (d *Download) Validate() (entity.DownloadRequest, error) {
	url := strings.TrimSpace(d.URL)
	if !urls.IsURLValid(url) {
		return entity.DownloadRequest{}, errs.ErrInvalidURL
	}

	platform, ok := entity.ParsePlatform(d.Platform)
	if !ok {
		return entity.DownloadRequest{}, fmt.Errorf("%w: %q", errs.ErrInvalidPlatform, d.Platform)
	}

	quality := strings.TrimSpace(d.Quality)
	if quality == "" {
		quality = entity.QualityBest
	}

	return entity.DownloadRequest{URL: urls.Normalize(url), Platform: platform, Quality: quality}, nil
}

// Login is the form of POST /auth/login.
type Login struct {
	Username string
	Password string
}

// ParseLogin reads an application/x-www-form-urlencoded login form.
func ParseLogin(r *http.Request) (Login, error) {
	if err := r.ParseForm(); err != nil {
		return Login{}, fmt.Errorf("%w: %w", errs.ErrInvalidRequestBody, err)
	}

	in := Login{Username: r.PostForm.Get("username"), Password: r.PostForm.Get("password")}
	if in.Username == "" || in.Password == "" {
		return Login{}, fmt.Errorf("%w: username and password are required", errs.ErrInvalidRequestBody)
	}

	return in, nil
}

// DecodeJSON reads exactly one JSON value from r into v.
func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidRequestBody, err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON body", errs.ErrInvalidRequestBody)
	}

	return nil
}
