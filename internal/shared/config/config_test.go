package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, "qwen2.5vl:7b", cfg.Ollama.VisionModel)
	assert.Equal(t, "qwen3:4b-instruct-2507-q8_0", cfg.Ollama.TextModel)
	assert.Equal(t, 200, cfg.Extraction.PDFDPI)
	assert.Equal(t, 3, cfg.Insights.MaxAttempts)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 15*time.Minute, cfg.Server.WriteTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("QUEUE_WORKERS", "8")
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("SERVER_WRITE_TIMEOUT", "0s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("OTEL_SAMPLE_RATIO", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Zero(t, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unknown store", map[string]string{"STORE_DRIVER": "mongo"}, "STORE_DRIVER"},
		{"unknown queue", map[string]string{"QUEUE_DRIVER": "kafka"}, "QUEUE_DRIVER"},
		{"zero workers", map[string]string{"QUEUE_WORKERS": "0"}, "QUEUE_WORKERS"},
		{"documentai without processor", map[string]string{"EXTRACTION_DRIVER": "documentai"}, "DOCUMENTAI_PROJECT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDSNPrefersURL(t *testing.T) {
	d := DatabaseConfig{URL: "postgres://u:p@db/x", Host: "ignored"}
	assert.Equal(t, "postgres://u:p@db/x", d.DSN())

	d = DatabaseConfig{Host: "h", Port: 1, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=disable", d.DSN())
}
