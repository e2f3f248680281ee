package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	opts, err := Parse([]byte(`hosts: ["zk1:2181", "zk2:2181"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, opts.Hosts)
	assert.Equal(t, defaultDialTimeout, opts.DialTimeout)
	assert.Equal(t, defaultSessionTimeout, opts.SessionTimeout)
}

func TestParseOverridesDurations(t *testing.T) {
	opts, err := Parse([]byte(`
hosts: ["zk1:2181"]
dial_timeout: 2s
session_timeout: 30s
`))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)
	assert.Equal(t, 30*time.Second, opts.SessionTimeout)
}

func TestParseRejectsEmptyHosts(t *testing.T) {
	_, err := Parse([]byte(`hosts: []`))
	assert.Error(t, err)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte(`
hosts: ["zk1:2181"]
dial_timeout: not-a-duration
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/options.yaml")
	assert.Error(t, err)
}
