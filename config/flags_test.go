package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasicFlags(t *testing.T) {
	cfg, _, err := Parse([]string{
		"-i", "a.pcap",
		"-i", "b.pcap",
		"-o", "out.pcap",
		"-r", "0",
		"-j", "515", // 0x203 -> target=3 max=2
		"-d", "3",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pcap", "b.pcap"}, cfg.InputFiles)
	assert.Equal(t, []string{"out.pcap"}, cfg.OutputFiles)
	assert.Equal(t, float64(0), cfg.PushIntervalMS)
	assert.Equal(t, uint8(3), cfg.JitterTargetDelay())
	assert.Equal(t, uint8(2), cfg.JitterMaxDelay())
	assert.True(t, cfg.Options.Has(DynamicSessions))
	assert.True(t, cfg.Options.Has(CombineInputSpecs))
	assert.False(t, cfg.Options.Has(EnableStreamGroups))
}

func TestParseRejectsOutOfRangeLookback(t *testing.T) {
	_, _, err := Parse([]string{"-l", "9"})
	assert.Error(t, err)
}

func TestParseGroupOutputFlags(t *testing.T) {
	cfg, _, err := Parse([]string{
		"--group_pcap", "group.pcap",
		"--group_pcap_nocopy",
		"--cut", "30",
		"-g", "group.wav",
	})
	require.NoError(t, err)
	assert.Equal(t, "group.pcap", cfg.GroupPcapPath)
	assert.True(t, cfg.GroupPcapNoCopy)
	assert.Equal(t, 30, cfg.CutSeconds)
	assert.Equal(t, "group.wav", cfg.GroupWavOutputPath)
}

func TestOptionFlagHasIsBitwise(t *testing.T) {
	var f OptionFlag = DisableFLC | EnableFLCHoldoffs
	assert.True(t, f.Has(DisableFLC))
	assert.True(t, f.Has(EnableFLCHoldoffs))
	assert.False(t, f.Has(DisablePacketRepair))
}
