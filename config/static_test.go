package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalrtp/rtpengine/session"
)

const sampleYAML = `
sessions:
  - name: call-1
    term1:
      payload_type: 0
      remote_ip: 10.0.0.1
      remote_port: 10000
      local_ip: 10.0.0.2
      local_port: 10002
      jitter_target_delay: 5
      jitter_max_delay: 10
      group_id: g1
    term2:
      payload_type: 8
      remote_ip: 10.0.0.3
      remote_port: 20000
      local_ip: 10.0.0.4
      local_port: 20002
    group:
      id: g1
      enable_merge: true
      enable_dedup: true
      wav_output_nchannel: true
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadStaticConfigDecodesSessions(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := LoadStaticConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Sessions, 1)

	s := cfg.Sessions[0]
	assert.Equal(t, "call-1", s.Name)
	assert.Equal(t, "10.0.0.1", s.Term1.RemoteIP)
	assert.Equal(t, uint16(10000), s.Term1.RemotePort)
	require.NotNil(t, s.Group)
	assert.True(t, s.Group.EnableMerge)
	assert.Equal(t, "g1", s.Term1.GroupID)
}

func TestLoadStaticConfigMissingFile(t *testing.T) {
	_, err := LoadStaticConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestToTerminationEndpointParsesIPsAndDefaultsJitter(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := LoadStaticConfig(path)
	require.NoError(t, err)

	term := cfg.Sessions[0].Term1.ToTerminationEndpoint()
	assert.Equal(t, uint16(10000), term.RemotePort)
	assert.Equal(t, uint16(10002), term.LocalPort)
	assert.Equal(t, byte(10), term.RemoteIP[0])
	assert.Equal(t, byte(0), term.RemoteIP[1])
	assert.Equal(t, byte(0), term.RemoteIP[2])
	assert.Equal(t, byte(1), term.RemoteIP[3])
	assert.Equal(t, uint8(5), term.JitterBuffer.TargetDelay)
	assert.Equal(t, uint8(10), term.JitterBuffer.MaxDelay)
	assert.Equal(t, "g1", term.GroupID)

	term2 := cfg.Sessions[0].Term2.ToTerminationEndpoint()
	defaults := session.DefaultJitterBufferConfig()
	assert.Equal(t, defaults.TargetDelay, term2.JitterBuffer.TargetDelay)
}

func TestToTerminationEndpointIgnoresUnparsableIP(t *testing.T) {
	tc := TerminationConfig{RemoteIP: "not-an-ip", RemotePort: 1}
	term := tc.ToTerminationEndpoint()
	assert.Equal(t, [16]byte{}, term.RemoteIP)
}
