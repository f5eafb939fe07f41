package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/steamkeeper/internal/queue"
	"github.com/loykin/steamkeeper/internal/supervisor"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "steamkeeper.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", c.DataDir)
	assert.Equal(t, filepath.Join("data", "steamcmd"), c.Tool.Dir)
	assert.Equal(t, filepath.Join("data", "logs"), c.Logs.Dir)
	assert.True(t, c.Tool.OrphanSweep)
	assert.NotEmpty(t, c.Tool.ProcessNames)
	assert.Equal(t, supervisor.DefaultStorageSubdir, c.Supervisor.StorageSubdir)
	assert.Equal(t, 3*time.Second, c.Supervisor.KillWait)
	assert.Equal(t, 5*time.Second, c.Supervisor.InterProfileDelay)
	assert.Equal(t, queue.DefaultCooldown, c.Queue.Cooldown)
	assert.Equal(t, 100, c.Queue.HistoryCap)
	assert.Equal(t, time.Minute, c.Schedule.AutoRunTick)
	assert.Equal(t, 10*time.Minute, c.Schedule.ScanTick)
	assert.Equal(t, 6*time.Hour, c.Schedule.ScanCadence)
	assert.Equal(t, time.Hour, c.Schedule.ScanRetry)
	assert.Equal(t, 5000, c.Logs.Capacity)
	assert.Equal(t, "127.0.0.1:8085", c.Server.Listen)
	assert.Empty(t, c.History.Sinks)
}

func TestLoadFile(t *testing.T) {
	p := writeTOML(t, `
data_dir = "/var/lib/steamkeeper"

[tool]
dir = "/opt/steamcmd"
orphan_sweep = false
side_log = ""
env = ["STEAM_RUNTIME=0"]

[supervisor]
kill_wait = "5s"
inter_profile_delay = "0s"

[queue]
cooldown = "1s"
history_cap = 20

[schedule]
autorun_tick = "30s"
scan_enabled = false

[logs]
retention_files = 3

[server]
listen = ":9090"
base_path = "/admin"

[history]
sinks = ["sqlite:///var/lib/steamkeeper/jobs.db"]

[notify]
discord_webhook = "https://discord.com/api/webhooks/1/abc"
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "/opt/steamcmd", c.Tool.Dir)
	assert.Equal(t, "/var/lib/steamkeeper/logs", c.Logs.Dir)
	assert.False(t, c.Tool.OrphanSweep)
	assert.Empty(t, c.Tool.SideLog)
	assert.Equal(t, 5*time.Second, c.Supervisor.KillWait)
	assert.Zero(t, c.Supervisor.InterProfileDelay)
	assert.Equal(t, time.Second, c.Queue.Cooldown)
	assert.Equal(t, 20, c.Queue.HistoryCap)
	assert.Equal(t, 30*time.Second, c.Schedule.AutoRunTick)
	assert.False(t, c.Schedule.ScanEnabled)
	assert.Equal(t, 3, c.Logs.RetentionFiles)
	assert.Equal(t, "/admin", c.Server.BasePath)
	assert.Equal(t, []string{"sqlite:///var/lib/steamkeeper/jobs.db"}, c.History.Sinks)
	assert.NotEmpty(t, c.Notify.DiscordWebhook)

	sc := c.SupervisorConfig([]string{"A=1"})
	assert.Equal(t, []string{"A=1"}, sc.Env)
	assert.False(t, sc.OrphanSweep)
	assert.Equal(t, 5*time.Second, sc.KillWait)

	qc := c.QueueConfig("/tmp/queue.json")
	assert.Equal(t, "/tmp/queue.json", qc.Path)
	assert.Equal(t, time.Second, qc.Cooldown)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STEAMKEEPER_SERVER_LISTEN", "0.0.0.0:7000")
	t.Setenv("STEAMKEEPER_QUEUE_HISTORY_CAP", "7")
	t.Setenv("STEAMKEEPER_SECRET_PASSPHRASE", "s3cret")
	t.Setenv("STEAMKEEPER_TOOL_ORPHAN_SWEEP", "false")

	p := writeTOML(t, "[server]\nlisten = \":9090\"\n")
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", c.Server.Listen)
	assert.Equal(t, 7, c.Queue.HistoryCap)
	assert.Equal(t, "s3cret", c.Secret.Passphrase)
	assert.False(t, c.Tool.OrphanSweep)
}

func TestZeroCooldownDisablesPause(t *testing.T) {
	p := writeTOML(t, "[queue]\ncooldown = \"0s\"\n")
	c, err := Load(p)
	require.NoError(t, err)
	assert.Less(t, c.QueueConfig("q.json").Cooldown, time.Duration(0))
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"format":     "[log]\nformat = \"xml\"\n",
		"history":    "[queue]\nhistory_cap = -1\n",
		"tick":       "[schedule]\nautorun_tick = \"0s\"\n",
		"listen":     "[server]\nlisten = \"\"\n",
		"catalog":    "[catalog]\nbase_url = \"not a url\"\n",
		"storage":    "[supervisor]\nstorage_subdir = \"../escape\"\n",
		"sweep":      "[tool]\nprocess_names = []\n",
		"tool env":   "[tool]\nenv = [\"NOEQUALS\"]\n",
		"kill wait":  "[supervisor]\nkill_wait = \"-1s\"\n",
		"empty sink": "[history]\nsinks = [\"\"]\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeTOML(t, data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestToolEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, "tool.env")
	require.NoError(t, os.WriteFile(dotenv, []byte("FROM_FILE=f\nSHARED=file\n"), 0o600))

	c, err := Load("")
	require.NoError(t, err)
	got, err := c.ToolEnv()
	require.NoError(t, err)
	assert.Nil(t, got)

	c.Tool.EnvFiles = []string{dotenv}
	c.Tool.Env = []string{"SHARED=config", "DERIVED=${FROM_FILE}-x"}
	got, err = c.ToolEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"DERIVED=f-x", "FROM_FILE=f", "SHARED=config"}, got)

	c.Tool.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	_, err = c.ToolEnv()
	assert.Error(t, err)
}

func TestServerTLS(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(writeTOML(t, `
data_dir = "`+filepath.ToSlash(dir)+`"

[server]
listen = "0.0.0.0:9443"
base_path = "/admin"

[server.tls]
enabled = true
hosts = ["keeper.lan"]
`))
	require.NoError(t, err)
	tc := c.TLSConfig()
	assert.True(t, tc.Enabled)
	assert.True(t, tc.AutoGenerate)
	assert.Equal(t, filepath.Join(dir, "tls"), tc.Dir)
	assert.Equal(t, []string{"keeper.lan"}, tc.Hosts)
	assert.Equal(t, "1.2", tc.MinVersion)
	assert.Equal(t, "https://0.0.0.0:9443/admin", c.AdminURL())

	_, err = Load(writeTOML(t, "[server.tls]\nenabled = true\ncert_file = \"a.crt\"\n"))
	assert.ErrorContains(t, err, "set together")
}
