// Package config implements the CLI flag surface and optional static
// session config file, using pflag for flags and yaml.v3 +
// mapstructure for the static config file to decode a loosely-typed
// map into a strict struct.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// OptionFlag is the -dN bitfield.
type OptionFlag uint64

const (
	DynamicSessions OptionFlag = 1 << iota
	CombineInputSpecs
	EnableStreamGroups
	EnableWavOutput
	UsePacketArrivalTimes
	AutoAdjustPushTiming
	AnalyticsMode
	EnableTimestampMatchMode
	DisableDTXHandling
	DisableFLC
	EnableFLCHoldoffs
	DisablePacketRepair
	DisableDormantSessionDetection
	EnableJitterBufferOutputPcaps
	EnableStreamSDPInfo
	DisableTerminateStreamOnBYE
	RepeatInputs
	EnableRandomWait
	SlowDormantSessionDetection
	AllowOutOfSpecRTPPadding
	ShowPacketArrivalStats
)

func (f OptionFlag) Has(bit OptionFlag) bool { return f&bit != 0 }

// Config is the parsed CLI flag surface.
type Config struct {
	InputFiles  []string // -iFILE, repeated
	OutputFiles []string // -oFILE, repeated
	ConfigFile  string   // -CFILE
	HistoryLog  string   // -LFILE

	PushIntervalMS float64 // -rN
	JitterPacked   uint32  // -jN: target | (max<<8)
	LookbackDepth  int     // -lN
	InputReuse     int     // -nN
	RepeatCount    int     // -RN

	Options OptionFlag // -dN

	GroupPcapPath       string // --group_pcap
	GroupPcapNoCopy     bool   // --group_pcap_nocopy
	CutSeconds          int    // --cut N
	GroupWavOutputPath  string // -gPATH
}

// JitterTargetDelay and JitterMaxDelay unpack the -jN bitfield.
func (c Config) JitterTargetDelay() uint8 { return uint8(c.JitterPacked & 0xFF) }
func (c Config) JitterMaxDelay() uint8    { return uint8((c.JitterPacked >> 8) & 0xFF) }

// Parse builds a Config from args using pflag. Non-flag arguments remain
// in the returned FlagSet's Args(); an unrecognized flag makes Parse
// return an error and is not passed through.
func Parse(args []string) (Config, *pflag.FlagSet, error) {
	fs := pflag.NewFlagSet("rtpengine", pflag.ContinueOnError)

	inputs := fs.StringArrayP("input", "i", nil, "input pcap/pcapng/rtpdump/ber file (repeatable)")
	outputs := fs.StringArrayP("output", "o", nil, "output pcap or H.26x bitstream file (repeatable)")
	configFile := fs.StringP("config", "C", "", "static session config file")
	historyLog := fs.StringP("history-log", "L", "", "packet-history log file (enables run-end analysis)")
	interval := fs.Float64P("interval", "r", 20, "push interval in ms (0=AFAP, fractional allowed)")
	jitter := fs.Uint32P("jitter", "j", 0, "jitter target/max delay packed as target|(max<<8)")
	lookback := fs.IntP("lookback", "l", 0, "RFC 7198 lookback depth (0..8)")
	reuse := fs.IntP("reuse", "n", 1, "input-reuse count (stress tests)")
	repeat := fs.IntP("repeat", "R", 1, "repeat-N-times (0 = infinite)")
	options := fs.Uint64P("options", "d", 0, "option bitfield")
	groupPcap := fs.String("group_pcap", "", "group output pcap path")
	groupPcapNoCopy := fs.Bool("group_pcap_nocopy", false, "omit per-contributor copy in group pcap")
	cut := fs.Int("cut", 0, "cut output after N seconds (0=disabled)")
	wavPath := fs.StringP("group-wav", "g", "", "wav output path for stream groups")

	if err := fs.Parse(args); err != nil {
		return Config{}, fs, err
	}

	if *lookback < 0 || *lookback > 8 {
		return Config{}, fs, fmt.Errorf("config: lookback %d out of range [0,8]", *lookback)
	}

	return Config{
		InputFiles:         *inputs,
		OutputFiles:        *outputs,
		ConfigFile:         *configFile,
		HistoryLog:         *historyLog,
		PushIntervalMS:     *interval,
		JitterPacked:       *jitter,
		LookbackDepth:      *lookback,
		InputReuse:         *reuse,
		RepeatCount:        *repeat,
		Options:            OptionFlag(*options),
		GroupPcapPath:      *groupPcap,
		GroupPcapNoCopy:    *groupPcapNoCopy,
		CutSeconds:         *cut,
		GroupWavOutputPath: *wavPath,
	}, fs, nil
}
