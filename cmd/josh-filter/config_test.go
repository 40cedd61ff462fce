package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigYAML(t *testing.T) {
	config, err := ParseConfigYAML([]byte(`
repo: /srv/git/monorepo.git
cache:
  backends: [bolt, sharded]
  shard_batch: 64
log_level: debug
trace: true
`))
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "/srv/git/monorepo.git", config.Repo)
	assert.Equal(t, defaultRefPrefix, config.RefPrefix)
	assert.Equal(t, []string{"bolt", "sharded"}, config.Cache.Backends)
	assert.Equal(t, slog.LevelDebug, config.level())
	assert.True(t, config.Trace)
	assert.Len(t, config.cacheOptions(), 2)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "no repo", yaml: "log_level: info\n"},
		{name: "unknown backend", yaml: "repo: r\ncache:\n  backends: [redis]\n"},
		{name: "negative batch", yaml: "repo: r\ncache:\n  shard_batch: -1\n"},
		{name: "bad level", yaml: "repo: r\nlog_level: loud\n"},
		{name: "bad prefix", yaml: "repo: r\nref_prefix: filtered\n"},
	}

	for _, tt := range tests {
		config, err := ParseConfigYAML([]byte(tt.yaml))
		require.NoError(t, err, tt.name)
		assert.Error(t, config.Validate(), tt.name)
	}

	config := defaultConfig()
	config.Repo = "."
	assert.NoError(t, config.Validate())
	assert.Empty(t, config.cacheOptions())
}
