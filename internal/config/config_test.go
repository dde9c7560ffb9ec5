package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.tigermatt.uk/hil/protocol"
	"go.tigermatt.uk/hil/scaling"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 115200, cfg.HIL.Baud)
	assert.Equal(t, 5*time.Second, cfg.HIL.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.HIL.Settle)
	assert.Equal(t, 3, cfg.HIL.Attempts)
	assert.Equal(t, 2*time.Second, cfg.HIL.RetryDelay)
	assert.Equal(t, time.Second, cfg.Soak.Interval)

	shape, err := cfg.Shape()
	require.NoError(t, err)
	assert.Equal(t, protocol.ShapeStatus, shape)

	p, err := cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, scaling.DefaultProfile(), p)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "bench.yaml", `
debug: true
hil:
  port: /dev/ttyUSB1
  attempts: 5
  retryDelay: 500ms
  shape: echo
  scaling:
    pwm: fullscale-32767
    current: fullscale-32767
    temperature: fullscale-32767
illuminator:
  port: /dev/ttyUSB0
  timeout: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/dev/ttyUSB1", cfg.HIL.Port)
	assert.Equal(t, 5, cfg.HIL.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.HIL.RetryDelay)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Illuminator.Port)
	assert.Equal(t, 2*time.Second, cfg.Illuminator.Timeout)

	p, err := cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, scaling.PWMFullScale, p.PWM)
	assert.Equal(t, scaling.CurrentFullScale, p.Current)
	assert.Equal(t, scaling.TemperatureFullScale, p.Temperature)
}

func TestLoadEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HIL_HIL_PORT", "COM20")
	t.Setenv("HIL_ILLUMINATOR_PORT", "COM19")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "COM20", cfg.HIL.Port)
	assert.Equal(t, "COM19", cfg.Illuminator.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]string{
		"attempts": "hil:\n  attempts: 0\n",
		"shape":    "hil:\n  shape: auto\n",
		"scaling":  "hil:\n  scaling:\n    temperature: direct\n",
		"format":   "logging:\n  format: xml\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.yaml", content))
			assert.ErrorContains(t, err, name)
		})
	}
}
