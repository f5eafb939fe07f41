package installer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/loykin/steamkeeper/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarGzArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func serve(t *testing.T, body []byte, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInstallZipIsIdempotent(t *testing.T) {
	var hits int32
	srv := serve(t, zipArchive(t, map[string]string{
		"steamcmd.sh":         "#!/bin/sh\necho hi\n",
		"linux32/steamcmd":    "bin",
		"linux32/steamerrorr": "x",
	}), &hits)
	dir := filepath.Join(t.TempDir(), "steamcmd")
	in := New(Config{Dir: dir, Executable: "steamcmd.sh", URL: srv.URL + "/steamcmd.zip"}, nil)

	assert.False(t, in.Installed())
	require.NoError(t, in.Install(context.Background()))
	assert.True(t, in.Installed())
	assert.Equal(t, filepath.Join(dir, "steamcmd.sh"), in.ExecutablePath())
	if runtime.GOOS != "windows" {
		fi, err := os.Stat(in.ExecutablePath())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())
	}
	_, err := os.Stat(filepath.Join(dir, "linux32", "steamcmd"))
	assert.NoError(t, err)

	require.NoError(t, in.Install(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	leftovers, _ := filepath.Glob(filepath.Join(dir, "download-*"))
	assert.Empty(t, leftovers)
}

func TestInstallTarGz(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}
	srv := serve(t, tarGzArchive(t, map[string]string{"steamcmd.sh": "#!/bin/sh\n"}), nil)
	dir := t.TempDir()
	in := New(Config{Dir: dir, Executable: "steamcmd.sh", URL: srv.URL + "/steamcmd_linux.tar.gz"}, nil)
	require.NoError(t, in.Install(context.Background()))
	assert.True(t, in.Installed())
}

func TestInstallUsesUntarHook(t *testing.T) {
	srv := serve(t, []byte("not really a tarball"), nil)
	dir := t.TempDir()
	in := New(Config{Dir: dir, Executable: "steamcmd.sh", URL: srv.URL + "/steamcmd_osx.tar.gz"}, nil)
	var gotArchive string
	in.untar = func(_ context.Context, archive, d string) error {
		gotArchive = archive
		return os.WriteFile(filepath.Join(d, "steamcmd.sh"), []byte("#!/bin/sh\n"), 0o600)
	}
	require.NoError(t, in.Install(context.Background()))
	assert.Contains(t, gotArchive, ".tar.gz")
}

func TestInstallHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	in := New(Config{Dir: t.TempDir(), URL: srv.URL + "/steamcmd.zip"}, nil)
	err := in.Install(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrToolFailure)
}

func TestInstallMissingExecutable(t *testing.T) {
	srv := serve(t, zipArchive(t, map[string]string{"readme.txt": "x"}), nil)
	in := New(Config{Dir: t.TempDir(), Executable: "steamcmd.exe", URL: srv.URL + "/steamcmd.zip"}, nil)
	err := in.Install(context.Background())
	assert.ErrorIs(t, err, errs.ErrToolFailure)
}

func TestInstallRejectsZipSlip(t *testing.T) {
	srv := serve(t, zipArchive(t, map[string]string{"../evil.sh": "x"}), nil)
	dir := filepath.Join(t.TempDir(), "tool")
	in := New(Config{Dir: dir, URL: srv.URL + "/steamcmd.zip"}, nil)
	assert.ErrorIs(t, in.Install(context.Background()), errs.ErrToolFailure)
	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "evil.sh"))
	assert.True(t, os.IsNotExist(err))
}

func TestDefaults(t *testing.T) {
	assert.Contains(t, DefaultURL("windows"), "steamcmd.zip")
	assert.Contains(t, DefaultURL("linux"), "steamcmd_linux.tar.gz")
	assert.Contains(t, DefaultURL("darwin"), "steamcmd_osx.tar.gz")
	assert.Equal(t, "steamcmd.exe", DefaultExecutable("windows"))
	assert.Equal(t, "steamcmd.sh", DefaultExecutable("linux"))
	assert.Equal(t, ".zip", archiveExt("http://x/steamcmd.zip?sig=1"))
	assert.Equal(t, ".tgz", archiveExt("http://x/a.tgz"))
	assert.Equal(t, ".tar.gz", archiveExt("http://x/a"))
}
