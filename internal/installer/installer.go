// Package installer downloads and unpacks the update tool into its directory.
package installer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/loykin/steamkeeper/internal/errs"
	"github.com/loykin/steamkeeper/internal/metrics"
)

const (
	DefaultTimeout = 10 * time.Minute
	userAgent      = "steamkeeper-installer/1.0"
)

// DefaultURL is the upstream archive for goos.
func DefaultURL(goos string) string {
	switch goos {
	case "windows":
		return "https://steamcdn-a.akamaihd.net/client/installer/steamcmd.zip"
	case "darwin":
		return "https://steamcdn-a.akamaihd.net/client/installer/steamcmd_osx.tar.gz"
	default:
		return "https://steamcdn-a.akamaihd.net/client/installer/steamcmd_linux.tar.gz"
	}
}

// DefaultExecutable is the launcher file name shipped in the archive for goos.
func DefaultExecutable(goos string) string {
	if goos == "windows" {
		return "steamcmd.exe"
	}
	return "steamcmd.sh"
}

type Config struct {
	Dir        string
	Executable string
	URL        string
	Timeout    time.Duration
}

type Installer struct {
	cfg    Config
	client *req.Client
	logger *slog.Logger
	// untar is swapped in tests.
	untar func(ctx context.Context, archive, dir string) error
}

func New(cfg Config, logger *slog.Logger) *Installer {
	if cfg.Executable == "" {
		cfg.Executable = DefaultExecutable(runtime.GOOS)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL(runtime.GOOS)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		cfg:    cfg,
		client: req.C().SetUserAgent(userAgent).SetTimeout(cfg.Timeout),
		logger: logger,
		untar:  untarExternal,
	}
}

func (i *Installer) Dir() string { return i.cfg.Dir }

func (i *Installer) ExecutablePath() string { return filepath.Join(i.cfg.Dir, i.cfg.Executable) }

// Installed reports whether the executable is present.
func (i *Installer) Installed() bool {
	fi, err := os.Stat(i.ExecutablePath())
	return err == nil && !fi.IsDir()
}

// Install downloads the archive, extracts it over Dir and marks the
// executable. Extraction overwrites, so running it again is safe.
func (i *Installer) Install(ctx context.Context) (err error) {
	defer func() { metrics.IncInstall(err == nil) }()
	start := time.Now()
	i.logger.Info("Installing update tool", "dir", i.cfg.Dir, "url", i.cfg.URL)

	if err := os.MkdirAll(i.cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("create tool dir: %w: %w", errs.ErrIO, err)
	}
	tmp, err := os.CreateTemp(i.cfg.Dir, "download-*"+archiveExt(i.cfg.URL))
	if err != nil {
		return fmt.Errorf("create temp archive: %w: %w", errs.ErrIO, err)
	}
	archive := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(archive) }()

	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()
	resp, err := i.client.R().SetContext(ctx).SetOutputFile(archive).Get(i.cfg.URL)
	if err != nil {
		return fmt.Errorf("download %s: %w: %w", i.cfg.URL, errs.ErrToolFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download %s: status %d: %w", i.cfg.URL, resp.StatusCode, errs.ErrToolFailure)
	}

	if strings.HasSuffix(strings.ToLower(archive), ".zip") {
		err = unzip(archive, i.cfg.Dir)
	} else {
		err = i.untar(ctx, archive, i.cfg.Dir)
	}
	if err != nil {
		return fmt.Errorf("extract: %w: %w", errs.ErrToolFailure, err)
	}

	if !i.Installed() {
		return fmt.Errorf("archive did not contain %s: %w", i.cfg.Executable, errs.ErrToolFailure)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(i.ExecutablePath(), 0o755); err != nil {
			return fmt.Errorf("chmod: %w: %w", errs.ErrIO, err)
		}
	}
	i.logger.Info("Update tool installed", "path", i.ExecutablePath(), "duration", time.Since(start))
	return nil
}

func archiveExt(url string) string {
	u := strings.ToLower(url)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	switch {
	case strings.HasSuffix(u, ".zip"):
		return ".zip"
	case strings.HasSuffix(u, ".tgz"):
		return ".tgz"
	default:
		return ".tar.gz"
	}
}

func unzip(archive, dir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer func() { _ = zr.Close() }()
	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range zr.File {
		dst := filepath.Join(dir, f.Name) // #nosec G305 checked below
		if !strings.HasPrefix(dst, root) {
			return fmt.Errorf("illegal path in archive: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o750); err != nil {
				return err
			}
			continue
		}
		if err := writeZipFile(f, dst); err != nil {
			return err
		}
	}
	return nil
}

func writeZipFile(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	// #nosec G110 archive comes from the configured installer URL
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func untarExternal(ctx context.Context, archive, dir string) error {
	// #nosec G204
	out, err := exec.CommandContext(ctx, "tar", "-xzf", archive, "-C", dir).CombinedOutput()
	if err != nil {
		return fmt.Errorf("tar: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
