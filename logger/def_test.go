package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_FileOutput(t *testing.T) {
	file := filepath.Join(t.TempDir(), "mocap.log")
	require.NoError(t, Init(Config{Level: "debug", File: file, MaxSizeMB: 1}))
	defer func() { _ = InitProduction() }()

	Log().Info("frame processed")
	Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "frame processed")
	assert.Contains(t, string(data), "timestamp")
}

func TestInit_BadLevel(t *testing.T) {
	assert.Error(t, Init(Config{Level: "verbose"}))
}

func TestLog_NeverNil(t *testing.T) {
	assert.NotNil(t, Log())
	assert.NotNil(t, S())
	assert.NotNil(t, Named("engine"))
}
