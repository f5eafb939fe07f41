package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	c, err := Setup(Config{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetupRequiresCertificate(t *testing.T) {
	_, err := Setup(Config{Enabled: true})
	assert.Error(t, err)

	_, err = Setup(Config{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err, "no auto-generation and no files")

	_, err = Setup(Config{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.0"})
	assert.Error(t, err)
}

func TestSetupAutoGenerates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	c, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true, Hosts: []string{"keeper.local", "10.0.0.5"}, MinVersion: "1.2"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)

	for _, name := range []string{CertName, KeyName, CACertName} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	if st, err := os.Stat(filepath.Join(dir, KeyName)); err == nil && os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
	}

	pair, err := c.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"keeper.local"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "10.0.0.5", leaf.IPAddresses[0].String())

	// A second setup reuses the files.
	before, err := os.ReadFile(filepath.Join(dir, CertName))
	require.NoError(t, err)
	_, err = Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, CertName))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetupWithFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenerateSelfSignedCert(CertConfig{
		CommonName: "localhost",
		Hosts:      []string{"localhost"},
		NotAfter:   timeIn(1),
		CertPath:   filepath.Join(dir, "a.crt"),
		KeyPath:    filepath.Join(dir, "a.key"),
	}))
	c, err := Setup(Config{Enabled: true, CertFile: filepath.Join(dir, "a.crt"), KeyFile: filepath.Join(dir, "a.key")})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
	_, err = c.GetCertificate(&tls.ClientHelloInfo{})
	assert.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, CACertName))
}

func TestParseVersion(t *testing.T) {
	for in, want := range map[string]uint16{"": tls.VersionTLS13, "1.3": tls.VersionTLS13, "TLS1.2": tls.VersionTLS12} {
		got, err := parseVersion(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseVersion("1.1")
	assert.Error(t, err)
}

func TestSafeReadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x")
	require.NoError(t, os.WriteFile(p, []byte("ok"), 0o600))
	b, err := safeReadFile(dir, p)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(b))
	_, err = safeReadFile(dir, filepath.Join(dir, "..", "elsewhere"))
	assert.Error(t, err)
}

func timeIn(days int) time.Time { return time.Now().AddDate(0, 0, days) }
