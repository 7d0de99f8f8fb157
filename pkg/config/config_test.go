package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// isolate points HOME and the working directory at a temp dir so that
// developer config files never leak into a test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEmpty(t, cfg.Instagram.UserAgent)
	assert.Equal(t, "https://www.instagram.com", cfg.Instagram.BaseURL)
	assert.Equal(t, "./archive", cfg.Archive.BaseDirectory)
	assert.Equal(t, DefaultEarlyStopThreshold, cfg.Sync.EarlyStopThreshold)
	assert.Equal(t, 0, cfg.Sync.Limit)
	assert.False(t, cfg.Sync.FullResync)
	assert.Equal(t, "mirror", cfg.Mirror.Mode)
	assert.Equal(t, "auto", cfg.Mirror.Backend)
	assert.Empty(t, cfg.Mirror.Remote)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("IGARCHIVE_USERNAME", "env_user")
	t.Setenv("IGARCHIVE_BASE_DIR", "/env/archive")
	t.Setenv("IGARCHIVE_EARLY_STOP_THRESHOLD", "5")
	t.Setenv("IGARCHIVE_REQUESTS_PER_MINUTE", "12")
	t.Setenv(MirrorRemoteEnv, " s3://bucket/prefix ")
	t.Setenv("IGARCHIVE_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "env_user", cfg.Instagram.Username)
	assert.Equal(t, "/env/archive", cfg.Archive.BaseDirectory)
	assert.Equal(t, 5, cfg.Sync.EarlyStopThreshold)
	assert.Equal(t, 12, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "s3://bucket/prefix", cfg.Mirror.Remote)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("IGARCHIVE_EARLY_STOP_THRESHOLD", "twenty")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IGARCHIVE_EARLY_STOP_THRESHOLD")
	assert.Equal(t, DefaultEarlyStopThreshold, cfg.Sync.EarlyStopThreshold)
}

func TestLoadFromFile(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
instagram:
  username: yaml_user
  timeout: 45s
archive:
  base_directory: /yaml/archive
sync:
  limit: 10
  early_stop_threshold: 7
retry:
  base_delay: 500ms
  max_delay: 1m30s
mirror:
  remote: "backup:igarchive"
  backend: rclone
logging:
  level: warn
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))

		assert.Equal(t, "yaml_user", cfg.Instagram.Username)
		assert.Equal(t, 45*time.Second, cfg.Instagram.Timeout)
		assert.Equal(t, "/yaml/archive", cfg.Archive.BaseDirectory)
		assert.Equal(t, 10, cfg.Sync.Limit)
		assert.Equal(t, 7, cfg.Sync.EarlyStopThreshold)
		assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
		assert.Equal(t, 90*time.Second, cfg.Retry.MaxDelay)
		assert.Equal(t, "backup:igarchive", cfg.Mirror.Remote)
		assert.Equal(t, "warn", cfg.Logging.Level)
		// untouched sections keep their defaults
		assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	})

	t.Run("toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		content := `
[instagram]
username = "toml_user"

[archive]
base_directory = "/toml/archive"

[sync]
full_resync = true

[mirror]
remote = "s3://bucket/ig"
backend = "s3"
s3_region = "eu-west-1"
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))

		assert.Equal(t, "toml_user", cfg.Instagram.Username)
		assert.Equal(t, "/toml/archive", cfg.Archive.BaseDirectory)
		assert.True(t, cfg.Sync.FullResync)
		assert.Equal(t, "s3", cfg.Mirror.Backend)
		assert.Equal(t, "eu-west-1", cfg.Mirror.S3Region)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sync: [not: valid"), 0644))

		err := DefaultConfig().LoadFromFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("missing explicit file", func(t *testing.T) {
		err := DefaultConfig().LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("no file found is not an error", func(t *testing.T) {
		isolate(t)
		assert.NoError(t, DefaultConfig().LoadFromFile(""))
	})
}

func TestFindConfigFile(t *testing.T) {
	dir := isolate(t)
	assert.Empty(t, findConfigFile())

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".igarchive.toml"), nil, 0644))
	assert.Equal(t, ".igarchive.toml", findConfigFile())

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".igarchive.yaml"), nil, 0644))
	assert.Equal(t, ".igarchive.yaml", findConfigFile())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(*Config)
		errorContains []string
	}{
		{
			name:  "defaults",
			setup: func(*Config) {},
		},
		{
			name: "negative sync values",
			setup: func(cfg *Config) {
				cfg.Sync.Limit = -1
				cfg.Sync.EarlyStopThreshold = -3
			},
			errorContains: []string{"limit cannot be negative", "early stop threshold cannot be negative"},
		},
		{
			name: "rate limit",
			setup: func(cfg *Config) {
				cfg.RateLimit.RequestsPerMinute = 0
				cfg.RateLimit.BurstSize = 0
			},
			errorContains: []string{"requests per minute must be positive", "burst size must be positive"},
		},
		{
			name: "retry checked only when enabled",
			setup: func(cfg *Config) {
				cfg.Retry.Enabled = false
				cfg.Retry.MaxAttempts = 0
			},
		},
		{
			name: "mirror settings",
			setup: func(cfg *Config) {
				cfg.Mirror.Backend = "ftp"
				cfg.Mirror.Mode = "sometimes"
			},
			errorContains: []string{`invalid mirror backend "ftp"`, `invalid mirror mode "sometimes"`},
		},
		{
			name: "empty base dir and bad level",
			setup: func(cfg *Config) {
				cfg.Archive.BaseDirectory = ""
				cfg.Logging.Level = "loud"
			},
			errorContains: []string{"archive base directory is required", "invalid log level"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(cfg)

			err := cfg.Validate()
			if len(tt.errorContains) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.errorContains {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestSave(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			cfg := DefaultConfig()
			cfg.Instagram.Username = "saved_user"
			cfg.Sync.EarlyStopThreshold = 9
			cfg.Retry.BaseDelay = 750 * time.Millisecond
			require.NoError(t, cfg.Save(path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			loaded := DefaultConfig()
			require.NoError(t, loaded.LoadFromFile(path))
			assert.Equal(t, "saved_user", loaded.Instagram.Username)
			assert.Equal(t, 9, loaded.Sync.EarlyStopThreshold)
			assert.Equal(t, 750*time.Millisecond, loaded.Retry.BaseDelay)
		})
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"base-dir":      "/flag/archive",
		"account":       "flag_user",
		"limit":         25,
		"full-resync":   true,
		"no-early-stop": true,
		"log-level":     "error",
	})

	assert.Equal(t, "/flag/archive", cfg.Archive.BaseDirectory)
	assert.Equal(t, "flag_user", cfg.Instagram.Username)
	assert.Equal(t, 25, cfg.Sync.Limit)
	assert.True(t, cfg.Sync.FullResync)
	assert.True(t, cfg.Sync.DisableEarlyStop)
	assert.Equal(t, "error", cfg.Logging.Level)

	t.Run("wrong types are ignored", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MergeCommandLineFlags(map[string]interface{}{
			"limit":    "ten",
			"base-dir": 42,
		})
		assert.Equal(t, 0, cfg.Sync.Limit)
		assert.Equal(t, "./archive", cfg.Archive.BaseDirectory)
	})
}

func TestLoad(t *testing.T) {
	t.Run("precedence order", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "config.yaml")
		content := `
instagram:
  username: file_user
archive:
  base_directory: /file/archive
sync:
  early_stop_threshold: 11
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		t.Setenv("IGARCHIVE_BASE_DIR", "/env/archive")
		t.Setenv("IGARCHIVE_USERNAME", "env_user")

		cfg, err := Load(path, map[string]interface{}{"account": "flag_user"})
		require.NoError(t, err)

		assert.Equal(t, "flag_user", cfg.Instagram.Username)
		assert.Equal(t, "/env/archive", cfg.Archive.BaseDirectory)
		assert.Equal(t, 11, cfg.Sync.EarlyStopThreshold)
	})

	t.Run("dotenv supplies the mirror remote", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, os.Unsetenv(MirrorRemoteEnv))
		t.Cleanup(func() { os.Unsetenv(MirrorRemoteEnv) })
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
			[]byte(MirrorRemoteEnv+"=backup:ig\n"), 0644))

		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, "backup:ig", cfg.Mirror.Remote)
	})

	t.Run("validation failure", func(t *testing.T) {
		isolate(t)
		cfg, err := Load("", map[string]interface{}{"log-level": "shout"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
		assert.Nil(t, cfg)
	})
}

func TestConfigSerialization(t *testing.T) {
	original := DefaultConfig()
	original.Mirror.ToolArgs = []string{"--fast-list", "--checksum"}

	data, err := yaml.Marshal(original)
	require.NoError(t, err)

	var loaded Config
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	assert.Equal(t, original.Mirror.ToolArgs, loaded.Mirror.ToolArgs)
	assert.Equal(t, original.Retry.MaxDelay, loaded.Retry.MaxDelay)
}

func BenchmarkValidate(b *testing.B) {
	cfg := DefaultConfig()
	for i := 0; i < b.N; i++ {
		_ = cfg.Validate()
	}
}
