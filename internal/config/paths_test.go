package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPaths(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	dir, err := DefaultConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".sleuth"), dir)

	cfg, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg)

	data, err := DefaultDataPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data.db"), data)

	logs, err := DefaultLogDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logs"), logs)
}

func TestDefaultPaths_HomeOverride(t *testing.T) {
	root := t.TempDir()
	t.Setenv(HomeEnv, root)

	dir, err := DefaultConfigDir()
	require.NoError(t, err)
	assert.Equal(t, root, dir)

	data, err := DefaultDataPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "data.db"), data)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("SLEUTH_TEST_DIR", "/srv/sleuth")

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"~", home},
		{"~/data/sleuth.db", filepath.Join(home, "data/sleuth.db")},
		{"/var/lib/sleuth.db", "/var/lib/sleuth.db"},
		{"relative/sleuth.db", "relative/sleuth.db"},
		{"~user/x", "~user/x"},
		{"$SLEUTH_TEST_DIR/data.db", "/srv/sleuth/data.db"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ExpandPath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
