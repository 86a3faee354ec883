package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 180*time.Second, cfg.ScanTimeout)
	assert.Equal(t, "mDL", cfg.AppTag)
	assert.Equal(t, "peripheral", cfg.Option)
	assert.Equal(t, uint32(256), cfg.JournalSize)
	assert.Equal(t, "text", cfg.OutputFormat)
	assert.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mdlble.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, cfg *Config)
		wantErr string
	}{
		{
			name:    "partial file keeps defaults",
			content: "log_level: debug\nscan_timeout: 30s\n",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, 30*time.Second, cfg.ScanTimeout)
				assert.Equal(t, "mDL", cfg.AppTag)
				assert.Equal(t, "peripheral", cfg.Option)
			},
		},
		{
			name:    "all fields",
			content: "log_level: warn\nscan_timeout: 1m\napp_tag: Wallet\noption: central\njournal_size: 64\noutput_format: json\n",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, time.Minute, cfg.ScanTimeout)
				assert.Equal(t, "Wallet", cfg.Tag())
				assert.Equal(t, "central", cfg.Option)
				assert.Equal(t, uint32(64), cfg.JournalSize)
				assert.Equal(t, "json", cfg.OutputFormat)
			},
		},
		{
			name:    "invalid option",
			content: "option: l2cap\n",
			wantErr: "option must be",
		},
		{
			name:    "invalid log level",
			content: "log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "malformed yaml",
			content: "log_level: [debug\n",
			wantErr: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_Tag(t *testing.T) {
	assert.Equal(t, "mDL", (&Config{AppTag: "mDL"}).Tag())
	assert.Empty(t, (&Config{AppTag: "-"}).Tag())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{"debug level", "debug", logrus.DebugLevel},
		{"info level", "info", logrus.InfoLevel},
		{"warn level", "warn", logrus.WarnLevel},
		{"unparsable falls back to info", "chatty", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := (&Config{LogLevel: tt.logLevel}).NewLogger()

			require.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
