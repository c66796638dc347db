package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func envMap(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestConfig(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		cfg := Default()

		assert.Equal(t, 4000, cfg.Server.Port)
		assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "uploads/", cfg.Upload.Prefix)
		assert.Equal(t, "application/octet-stream", cfg.Upload.DefaultContentType)
		assert.Equal(t, int64(5<<30), cfg.Upload.MaxPartBytes)
		assert.True(t, cfg.Storage.PathStyle)
		assert.Equal(t, int64(8<<20), cfg.Client.PartSize)
		assert.Equal(t, 4, cfg.Client.Concurrency)
	})

	t.Run("Default Requires Bucket", func(t *testing.T) {
		err := Default().Validate()
		require.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorIs(t, err, ErrMissingBucket)
	})

	t.Run("LoadTOML", func(t *testing.T) {
		path := writeFile(t, "config.toml", `
[server]
port = 8080

[storage]
bucket = "media"
region = "eu-west-1"
endpoint = "http://localhost:9000"

[logging]
level = "debug"
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "media", cfg.Storage.Bucket)
		assert.Equal(t, "eu-west-1", cfg.Storage.Region)
		assert.Equal(t, "http://localhost:9000", cfg.Storage.Endpoint)
		assert.Equal(t, "debug", cfg.Logging.Level)
		// untouched keys keep their defaults
		assert.Equal(t, "uploads/", cfg.Upload.Prefix)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	})

	t.Run("LoadYAML", func(t *testing.T) {
		path := writeFile(t, "config.yaml", `
server:
  shutdown_timeout: 3s
storage:
  bucket: songs
  path_style: false
client:
  concurrency: 8
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "songs", cfg.Storage.Bucket)
		assert.False(t, cfg.Storage.PathStyle)
		assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 8, cfg.Client.Concurrency)
	})

	t.Run("Unsupported Extension", func(t *testing.T) {
		path := writeFile(t, "config.json", `{}`)
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("Environment Overrides File", func(t *testing.T) {
		path := writeFile(t, "config.toml", `
[storage]
bucket = "from-file"
`)
		t.Setenv("MEDIAUPLOAD_BUCKET", "from-env")
		t.Setenv("MEDIAUPLOAD_PORT", "9999")
		t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
		t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "from-env", cfg.Storage.Bucket)
		assert.Equal(t, 9999, cfg.Server.Port)
		assert.Equal(t, "AKIA", cfg.Storage.AccessKeyID)
		assert.Equal(t, "secret", cfg.Storage.SecretAccessKey)
	})

	t.Run("Read Skips Validation", func(t *testing.T) {
		t.Setenv("MEDIAUPLOAD_BUCKET", "")
		t.Setenv("AWS_BUCKET_NAME", "")
		t.Setenv("MEDIAUPLOAD_BASE_URL", "http://uploads.test")

		cfg, err := Read("")
		require.NoError(t, err)
		assert.Empty(t, cfg.Storage.Bucket)
		assert.Equal(t, "http://uploads.test", cfg.Client.BaseURL)

		_, err = Load("")
		assert.ErrorIs(t, err, ErrMissingBucket)
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, CreateConfigFile(path))
		assert.Error(t, CreateConfigFile(path), "second create should fail")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, exampleConf, data)
	})
}

func TestApplyEnv(t *testing.T) {
	t.Run("Primary Name Wins", func(t *testing.T) {
		cfg := Default()
		err := applyEnv(cfg, envMap(map[string]string{
			"MEDIAUPLOAD_BUCKET": "primary",
			"AWS_BUCKET_NAME":    "fallback",
		}))
		require.NoError(t, err)
		assert.Equal(t, "primary", cfg.Storage.Bucket)
	})

	t.Run("Fallback Name", func(t *testing.T) {
		cfg := Default()
		err := applyEnv(cfg, envMap(map[string]string{"AWS_BUCKET_NAME": "fallback"}))
		require.NoError(t, err)
		assert.Equal(t, "fallback", cfg.Storage.Bucket)
	})

	t.Run("Typed Values", func(t *testing.T) {
		cfg := Default()
		err := applyEnv(cfg, envMap(map[string]string{
			"MEDIAUPLOAD_PATH_STYLE":     "false",
			"MEDIAUPLOAD_MAX_PART_BYTES": "1048576",
		}))
		require.NoError(t, err)
		assert.False(t, cfg.Storage.PathStyle)
		assert.Equal(t, int64(1<<20), cfg.Upload.MaxPartBytes)
	})

	t.Run("Bad Port", func(t *testing.T) {
		err := applyEnv(Default(), envMap(map[string]string{"MEDIAUPLOAD_PORT": "http"}))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("Bad Bool", func(t *testing.T) {
		err := applyEnv(Default(), envMap(map[string]string{"MEDIAUPLOAD_PATH_STYLE": "maybe"}))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Storage.Bucket = "media"
		return cfg
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("Missing Region", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.Region = ""
		assert.ErrorIs(t, cfg.Validate(), ErrMissingRegion)
	})

	t.Run("Partial Keys", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.AccessKeyID = "AKIA"
		assert.ErrorIs(t, cfg.Validate(), ErrPartialKeys)
	})

	t.Run("Port Out Of Range", func(t *testing.T) {
		cfg := valid()
		cfg.Server.Port = 70000
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("Prefix Without Slash", func(t *testing.T) {
		cfg := valid()
		cfg.Upload.Prefix = "uploads"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("Non Positive Max Part", func(t *testing.T) {
		cfg := valid()
		cfg.Upload.MaxPartBytes = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("Missing File Is Ignored", func(t *testing.T) {
		assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
	})

	t.Run("Loads Values", func(t *testing.T) {
		path := writeFile(t, ".env", "MEDIAUPLOAD_TEST_DOTENV=loaded\n")
		t.Setenv("MEDIAUPLOAD_TEST_DOTENV", "")
		os.Unsetenv("MEDIAUPLOAD_TEST_DOTENV")

		require.NoError(t, LoadDotEnv(path))
		assert.Equal(t, "loaded", os.Getenv("MEDIAUPLOAD_TEST_DOTENV"))
	})
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 4000}
	assert.Equal(t, "127.0.0.1:4000", s.Addr())
}

func TestObjectBaseURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com", StorageConfig{PublicEndpoint: "https://cdn.example.com/", Endpoint: "http://minio:9000"}.ObjectBaseURL())
	assert.Equal(t, "http://minio:9000", StorageConfig{Endpoint: "http://minio:9000"}.ObjectBaseURL())
	assert.Equal(t, "https://s3.eu-west-1.amazonaws.com", StorageConfig{Region: "eu-west-1"}.ObjectBaseURL())
}
