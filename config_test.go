package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrMakeConfig(t *testing.T) {
	for _, name := range []string{"rxprefs.json", "rxprefs.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			conf, err := GetOrMakeConfig(path)
			require.NoError(t, err)
			assert.Equal(t, defaultConfig, *conf)

			_, err = os.Stat(path)
			require.NoError(t, err)

			again, err := GetConfig(path)
			require.NoError(t, err)
			assert.Equal(t, defaultConfig, *again)
		})
	}
}

func TestGetConfigTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rxprefs.toml")
	contents := "logger = \"Bolt\"\nfrontend = \"GRPC\"\nnamespace = \"ui\"\ntelemetry = true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	conf, err := GetConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ConfigFile{Logger: "Bolt", Frontend: "GRPC", Namespace: "ui", Telemetry: true}, *conf)
}

func TestGetConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rxprefs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"frontend":"GRPC"}`), 0o644))

	conf, err := GetConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "GRPC", conf.Frontend)
	assert.Equal(t, "File", conf.Logger)
	assert.Equal(t, "default", conf.Namespace)
}

func TestGetConfigGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rxprefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := GetOrMakeConfig(path)
	assert.Error(t, err)
}
