package config

import (
	"net"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/signalrtp/rtpengine/session"
)

// TerminationConfig is the YAML-decodable shape of one static
// termination endpoint, mirroring session.TerminationEndpoint's
// exported shape closely enough for mapstructure to decode directly.
type TerminationConfig struct {
	PayloadType  uint8  `mapstructure:"payload_type"`
	RemoteIP     string `mapstructure:"remote_ip"`
	RemotePort   uint16 `mapstructure:"remote_port"`
	LocalIP      string `mapstructure:"local_ip"`
	LocalPort    uint16 `mapstructure:"local_port"`
	JitterTarget uint8  `mapstructure:"jitter_target_delay"`
	JitterMax    uint8  `mapstructure:"jitter_max_delay"`
	GroupID      string `mapstructure:"group_id"`
}

// GroupConfig is the YAML-decodable shape of one static stream group.
type GroupConfig struct {
	ID              string `mapstructure:"id"`
	EnableMerge     bool   `mapstructure:"enable_merge"`
	EnableDedup     bool   `mapstructure:"enable_dedup"`
	WavOutputNChan  bool   `mapstructure:"wav_output_nchannel"`
	FLCDisable      bool   `mapstructure:"flc_disable"`
}

// SessionConfig is one statically-configured session entry, matching
// the -CFILE format.
type SessionConfig struct {
	Name  string              `mapstructure:"name"`
	Term1 TerminationConfig   `mapstructure:"term1"`
	Term2 TerminationConfig   `mapstructure:"term2"`
	Group *GroupConfig        `mapstructure:"group"`
}

// StaticConfig is the top-level -CFILE document.
type StaticConfig struct {
	Sessions []SessionConfig `mapstructure:"sessions"`
}

// LoadStaticConfig reads and decodes path's YAML body into a
// StaticConfig, going through an untyped map first and then
// mapstructure so the document can carry extra fields future versions
// add without breaking older binaries.
func LoadStaticConfig(path string) (StaticConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StaticConfig{}, err
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return StaticConfig{}, err
	}

	var cfg StaticConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return StaticConfig{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return StaticConfig{}, err
	}
	return cfg, nil
}

// ToTerminationEndpoint converts a parsed TerminationConfig into a
// session.TerminationEndpoint with the engine's jitter-buffer
// defaults filled in where the config leaves them zero.
func (tc TerminationConfig) ToTerminationEndpoint() session.TerminationEndpoint {
	jb := session.DefaultJitterBufferConfig()
	if tc.JitterTarget != 0 {
		jb.TargetDelay = tc.JitterTarget
	}
	if tc.JitterMax != 0 {
		jb.MaxDelay = tc.JitterMax
	}

	var remoteIP, localIP [16]byte
	copyIP(&remoteIP, tc.RemoteIP)
	copyIP(&localIP, tc.LocalIP)

	return session.TerminationEndpoint{
		PayloadType:  tc.PayloadType,
		RemoteIP:     remoteIP,
		RemotePort:   tc.RemotePort,
		LocalIP:      localIP,
		LocalPort:    tc.LocalPort,
		JitterBuffer: jb,
		GroupID:      tc.GroupID,
	}
}

func copyIP(dst *[16]byte, s string) {
	ip := net.ParseIP(s)
	if ip == nil {
		return
	}
	if v4 := ip.To4(); v4 != nil {
		copy(dst[:4], v4)
		return
	}
	copy(dst[:], ip.To16())
}

// DormantSweepInterval is how often the engine calls
// session.Manager.SweepDormant, separate from the per-session dormant
// window itself.
const DormantSweepInterval = 5 * time.Second
