// Package depmanager provisions the external binaries the extraction backends shell out to:
// yt-dlp for the generic backend and ffmpeg/ffprobe for merging and muxing.
// Checksums are used only to detect when new versions are available, not to verify downloads.
package depmanager

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vidgrab/internal/config"
	"vidgrab/internal/consts"
	"vidgrab/internal/errs"

	"github.com/ulikunitz/xz"
)

// Name is a binary dependency name.
type Name string

// Binary dependency names.
const (
	YTdlp   Name = consts.BinYTdlp
	FFmpeg  Name = consts.BinFFmpeg
	FFprobe Name = consts.BinFFprobe
)

const (
	downloadTimeout    = 10 * time.Minute
	filePermExecutable = 0o755
	filePermReadWrite  = 0o644
	sha256HexLength    = 64
	sumsFieldCount     = 2
	savedSumsFilename  = ".sha256sums.json"
	platformWindows    = "windows"
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

// String returns the platform string in format "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// artifact is one downloadable release asset and the binaries it provides.
type artifact struct {
	provides  []Name
	sumsURL   func(config.DepManager) string
	urls      func(config.DepManager) map[string]string // platform -> url
	filenames map[string]string                         // platform -> name in the sums file
}

var artifacts = []artifact{
	{
		provides: []Name{YTdlp},
		sumsURL:  func(c config.DepManager) string { return c.YTdlpSHA256SumsURL },
		urls: func(c config.DepManager) map[string]string {
			return map[string]string{"linux/arm64": c.YTdlpLinuxARM64, "linux/amd64": c.YTdlpLinuxAMD64}
		},
		filenames: map[string]string{
			"linux/arm64": "yt-dlp_linux_aarch64",
			"linux/amd64": "yt-dlp_linux",
		},
	},
	{
		provides: []Name{FFmpeg, FFprobe},
		sumsURL:  func(c config.DepManager) string { return c.FFmpegSHA256SumsURL },
		urls: func(c config.DepManager) map[string]string {
			return map[string]string{"linux/arm64": c.FFmpegLinuxARM64, "linux/amd64": c.FFmpegLinuxAMD64}
		},
		filenames: map[string]string{
			"linux/arm64": "ffmpeg-master-latest-linuxarm64-gpl.tar.xz",
			"linux/amd64": "ffmpeg-master-latest-linux64-gpl.tar.xz",
		},
	},
}

// Manager manages binary dependencies.
type Manager struct {
	log      *slog.Logger
	cfg      config.DepManager
	platform Platform
	client   *http.Client

	mu        sync.RWMutex
	shaSums   map[string]string // filename -> sha256 hash (fetched from remote)
	savedSums map[string]string // filename -> sha256 hash (saved from previous run)
	binPaths  map[Name]string

	updating atomic.Bool
}

// New creates a new dependency manager.
func New(log *slog.Logger, cfg config.DepManager) *Manager {
	return &Manager{
		log: log.With(slog.String("package", "depmanager")),
		cfg: cfg,
		platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		client:    &http.Client{Timeout: downloadTimeout},
		shaSums:   make(map[string]string),
		savedSums: make(map[string]string),
		binPaths:  make(map[Name]string),
	}
}

// Start resolves every binary, either from PATH or by downloading it, and
// starts the update checker for downloaded binaries.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.UseSystemBinaries {
		return m.SetSystemBinaries()
	}

	if err := m.InstallAll(ctx); err != nil {
		return err
	}

	m.StartUpdateChecker(ctx)

	return nil
}

// SetSystemBinaries looks every binary up in PATH. ffprobe is optional.
func (m *Manager) SetSystemBinaries() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range []Name{YTdlp, FFmpeg, FFprobe} {
		path, err := exec.LookPath(string(name))
		if err != nil {
			if name == FFprobe {
				continue
			}

			return fmt.Errorf("%s: %w: %w", name, errs.ErrBinaryNotFound, err)
		}

		m.binPaths[name] = path
	}

	return nil
}

// InstallAll downloads all missing binaries, then records remote checksums for update checks.
func (m *Manager) InstallAll(ctx context.Context) error {
	log := m.log

	err := os.MkdirAll(m.cfg.BinsDir, filePermExecutable)
	if err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	err = m.loadSavedSums()
	if err != nil {
		log.DebugContext(ctx, "no saved checksums found, first run", slog.Any("error", err))
	}

	for _, a := range artifacts {
		if m.isInstalled(a) {
			for _, name := range a.provides {
				m.setBinaryPath(name)
			}

			continue
		}

		err = m.install(ctx, a)
		if err != nil {
			return fmt.Errorf("install %s: %w", a.provides[0], err)
		}
	}

	log.InfoContext(ctx, "all binaries are installed", slog.Any("binaries", m.installed()))

	err = m.FetchSHASums(ctx)
	if err != nil {
		log.WarnContext(ctx, "failed to fetch checksums", slog.Any("error", err))

		return nil
	}

	err = m.saveSums()
	if err != nil {
		log.WarnContext(ctx, "failed to save checksums", slog.Any("error", err))
	}

	return nil
}

// BinaryPath returns where name lives inside BinsDir.
func (m *Manager) BinaryPath(name Name) string {
	filename := string(name)
	if m.platform.OS == platformWindows {
		filename += ".exe"
	}

	return filepath.Join(m.cfg.BinsDir, filename)
}

// Path returns the resolved path for name, falling back to the bare name for PATH lookup.
func (m *Manager) Path(name Name) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.binPaths[name]; ok {
		return p
	}

	return string(name)
}

func (m *Manager) installed() map[Name]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.binPaths)
}

// StartUpdateChecker periodically compares remote checksums with saved ones and
// reinstalls changed artifacts.
func (m *Manager) StartUpdateChecker(ctx context.Context) {
	if m.cfg.UpdateInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.UpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAndUpdate(ctx)
			}
		}
	}()
}

// FetchSHASums fetches and parses every configured checksum file.
func (m *Manager) FetchSHASums(ctx context.Context) error {
	sumsURLs := m.sumsURLs()
	if len(sumsURLs) == 0 {
		return errors.New("no SHA256 sums URLs configured")
	}

	for _, url := range sumsURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch SHA sums: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch SHA sums %s: unexpected status: %d", url, resp.StatusCode)
		}

		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}

		m.ParseSHASums(string(body))
	}

	return nil
}

func (m *Manager) sumsURLs() []string {
	var out []string

	for _, a := range artifacts {
		for part := range strings.SplitSeq(a.sumsURL(m.cfg), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}

// ParseSHASums parses "hash  filename" lines, skipping anything malformed.
func (m *Manager) ParseSHASums(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for line := range strings.SplitSeq(content, "\n") {
		parts := strings.Fields(line)
		if len(parts) != sumsFieldCount || len(parts[0]) != sha256HexLength {
			continue
		}

		m.shaSums[strings.TrimPrefix(parts[1], "*")] = parts[0]
	}

	m.log.Debug("parsed SHA256 sums", slog.Int("count", len(m.shaSums)))
}

func (m *Manager) checkAndUpdate(ctx context.Context) {
	if !m.updating.CompareAndSwap(false, true) {
		return
	}
	defer m.updating.Store(false)

	log := m.log

	err := m.FetchSHASums(ctx)
	if err != nil {
		log.WarnContext(ctx, "update check: failed to fetch checksums", slog.Any("error", err))

		return
	}

	updates := m.findUpdates()
	if len(updates) == 0 {
		log.DebugContext(ctx, "update check: no updates available")

		return
	}

	for _, a := range updates {
		if err := m.install(ctx, a); err != nil {
			log.ErrorContext(ctx, "update check: failed to update binary",
				slog.String("binary", string(a.provides[0])),
				slog.Any("error", err))

			continue
		}

		log.InfoContext(ctx, "update check: binary updated", slog.String("binary", string(a.provides[0])))
	}

	if err := m.saveSums(); err != nil {
		log.WarnContext(ctx, "update check: failed to save checksums", slog.Any("error", err))
	}
}

// findUpdates returns artifacts whose remote checksum differs from the saved one.
func (m *Manager) findUpdates() []artifact {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var updates []artifact

	for _, a := range artifacts {
		filename := a.filenames[m.platform.String()]

		newHash, hasNew := m.shaSums[filename]
		oldHash, hasOld := m.savedSums[filename]

		if hasNew && (!hasOld || newHash != oldHash) {
			updates = append(updates, a)
		}
	}

	return updates
}

func (m *Manager) isInstalled(a artifact) bool {
	for _, name := range a.provides {
		info, err := os.Stat(m.BinaryPath(name))
		if err != nil || info.Size() == 0 {
			return false
		}
	}

	return true
}

func (m *Manager) setBinaryPath(name Name) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.binPaths[name] = m.BinaryPath(name)
}

func (m *Manager) install(ctx context.Context, a artifact) error {
	url := a.urls(m.cfg)[m.platform.String()]
	if url == "" {
		return fmt.Errorf("%s on %s: %w", a.provides[0], m.platform, errs.ErrUnsupportedPlatform)
	}

	m.log.InfoContext(ctx, "downloading binary",
		slog.String("binary", string(a.provides[0])),
		slog.String("url", url))

	err := m.download(ctx, url, a.provides)
	if err != nil {
		return err
	}

	for _, name := range a.provides {
		path := m.BinaryPath(name)
		if err := os.Chmod(path, filePermExecutable); err != nil {
			return fmt.Errorf("chmod %s: %w", name, err)
		}

		m.setBinaryPath(name)
	}

	return nil
}

// download fetches url into BinsDir, extracting the wanted files from archives.
func (m *Manager) download(ctx context.Context, url string, want []Name) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status: %d", url, resp.StatusCode)
	}

	tmpFile, err := os.CreateTemp(m.cfg.BinsDir, "download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmpFile.Name()

	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	targets := make(map[string]string, len(want)) // name in archive -> dest
	for _, name := range want {
		targets[filepath.Base(m.BinaryPath(name))] = m.BinaryPath(name)
	}

	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip(tmpPath, targets)
	case strings.HasSuffix(url, ".tar.xz"):
		return extractTarXZ(tmpPath, targets)
	case strings.HasSuffix(url, ".tar.gz"):
		return extractTarGZ(tmpPath, targets)
	}

	if err := os.Rename(tmpPath, m.BinaryPath(want[0])); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}

func (m *Manager) loadSavedSums() error {
	data, err := os.ReadFile(filepath.Join(m.cfg.BinsDir, savedSumsFilename))
	if err != nil {
		return fmt.Errorf("read checksums file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := json.Unmarshal(data, &m.savedSums); err != nil {
		return fmt.Errorf("unmarshal checksums: %w", err)
	}

	return nil
}

func (m *Manager) saveSums() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.shaSums, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("marshal checksums: %w", err)
	}

	if err := os.WriteFile(filepath.Join(m.cfg.BinsDir, savedSumsFilename), data, filePermReadWrite); err != nil {
		return fmt.Errorf("write checksums file: %w", err)
	}

	m.mu.Lock()
	m.savedSums = maps.Clone(m.shaSums)
	m.mu.Unlock()

	return nil
}

func writeExecutable(dest string, r io.Reader) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable)
	if err != nil {
		return fmt.Errorf("create dest file: %w", err)
	}

	_, err = io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return fmt.Errorf("extract %s: %w", filepath.Base(dest), err)
	}

	return nil
}

func extractZip(path string, targets map[string]string) error {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	extracted := 0

	for _, file := range reader.File {
		dest, ok := targets[filepath.Base(file.Name)]
		if !ok || file.FileInfo().IsDir() {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("open file in zip: %w", err)
		}

		err = writeExecutable(dest, rc)
		rc.Close()

		if err != nil {
			return err
		}

		if extracted++; extracted == len(targets) {
			return nil
		}
	}

	return fmt.Errorf("zip archive: found %d of %d files", extracted, len(targets))
}

func extractTarXZ(path string, targets map[string]string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open tar.xz: %w", err)
	}
	defer file.Close()

	xzReader, err := xz.NewReader(file)
	if err != nil {
		return fmt.Errorf("create xz reader: %w", err)
	}

	return extractTar(xzReader, targets)
}

func extractTarGZ(path string, targets map[string]string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open tar.gz: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzReader.Close()

	return extractTar(gzReader, targets)
}

func extractTar(r io.Reader, targets map[string]string) error {
	tarReader := tar.NewReader(r)
	extracted := 0

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		dest, ok := targets[filepath.Base(header.Name)]
		if !ok || header.Typeflag != tar.TypeReg {
			continue
		}

		if err := writeExecutable(dest, tarReader); err != nil {
			return err
		}

		if extracted++; extracted == len(targets) {
			return nil
		}
	}

	return fmt.Errorf("tar archive: found %d of %d files", extracted, len(targets))
}
