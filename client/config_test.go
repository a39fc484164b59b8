package client_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partflow/partflow/client"
)

func TestConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	want := &client.Config{
		Server:    "http://example.com:5808",
		AccessKey: "AKIATEST",
		SecretKey: "testsecret",
		Region:    "eu-west-1",
	}
	require.NoError(t, client.SaveConfigFile(path, want))

	got, err := client.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := client.LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PARTFLOW_SERVER", "http://env:5808")
	t.Setenv("PARTFLOW_ACCESS_KEY", "AKIAENV")
	t.Setenv("PARTFLOW_SECRET_KEY", "envsecret")

	cfg := client.ConfigFromEnv()
	assert.Equal(t, "http://env:5808", cfg.Server)
	assert.Equal(t, "AKIAENV", cfg.AccessKey)
	assert.Equal(t, "envsecret", cfg.SecretKey)
}

func TestMergeConfig(t *testing.T) {
	file := &client.Config{Server: "http://file:5808", AccessKey: "AKIAFILE", SecretKey: "filesecret"}
	env := &client.Config{AccessKey: "AKIAENV"}
	flags := &client.Config{Server: "http://flags:5808"}

	merged := client.MergeConfig(file, env, flags)

	assert.Equal(t, "http://flags:5808", merged.Server)
	assert.Equal(t, "AKIAENV", merged.AccessKey)
	assert.Equal(t, "filesecret", merged.SecretKey)
}

func TestMergeConfig_NilEntries(t *testing.T) {
	merged := client.MergeConfig(nil, &client.Config{Server: "http://only:5808"}, nil)
	assert.Equal(t, "http://only:5808", merged.Server)
}
