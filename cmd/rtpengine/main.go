package main

import (
	"context"
	"encoding/binary"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/signalrtp/rtpengine/config"
	"github.com/signalrtp/rtpengine/engine"
	"github.com/signalrtp/rtpengine/iohandlers"
	"github.com/signalrtp/rtpengine/parser"
	"github.com/signalrtp/rtpengine/pipeline"
	"github.com/signalrtp/rtpengine/rtplog"
)

func main() {
	cfg, _, err := config.Parse(os.Args[1:])
	if err != nil {
		rtplog.Logger.Fatal().Err(err).Msg("config parse failed")
	}

	if cfg.ConfigFile != "" {
		if _, err := config.LoadStaticConfig(cfg.ConfigFile); err != nil {
			rtplog.Logger.Fatal().Err(err).Msg("static config load failed")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	e := engine.New(cfg, runtimeWorkerCount())

	if cfg.GroupPcapPath != "" || len(cfg.OutputFiles) > 0 {
		sink, err := newFileSink(cfg)
		if err != nil {
			rtplog.Logger.Fatal().Err(err).Msg("output sink setup failed")
		}
		defer sink.Close()
		e.SetSink(sink)
	}

	inputs := make([]engine.InputSource, 0, len(cfg.InputFiles))
	for _, path := range cfg.InputFiles {
		in, err := openInput(path)
		if err != nil {
			rtplog.Logger.Fatal().Err(err).Str("file", path).Msg("failed to open input")
		}
		inputs = append(inputs, in)
	}

	e.Run(ctx, inputs)

	rtplog.Logger.Info().Msg("run complete")
	for _, c := range e.Counters.Snapshot() {
		rtplog.Logger.Info().Str("counter", c.Name).Int64("value", c.Value).Msg("final stat")
	}
}

func runtimeWorkerCount() int {
	n := 4
	if env := os.Getenv("RTPENGINE_WORKERS"); env != "" {
		// Left at the default on any parse trouble; this is a convenience
		// knob, not a required flag.
		if v, err := parseSmallInt(env); err == nil && v > 0 {
			n = v
		}
	}
	return n
}

func parseSmallInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// openInput picks a pcap or rtpdump reader by file extension, per
// input format list.
func openInput(path string) (engine.InputSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".rtpdump") {
		rd, err := iohandlers.OpenRtpDump(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &rtpDumpInput{name: path, f: f, rd: rd}, nil
	}

	pr, err := iohandlers.OpenPcap(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &pcapInput{name: path, f: f, pr: pr, link: linkKindFor(pr.LinkType)}, nil
}

func linkKindFor(lt layers.LinkType) parser.LinkLayerKind {
	if lt == layers.LinkTypeEthernet {
		return parser.LinkEthernet
	}
	return parser.LinkRaw
}

type pcapInput struct {
	name string
	f    *os.File
	pr   *iohandlers.PcapReader
	link parser.LinkLayerKind
}

func (in *pcapInput) Name() string                 { return in.name }
func (in *pcapInput) LinkKind() parser.LinkLayerKind { return in.link }

func (in *pcapInput) Next() ([]byte, time.Time, bool) {
	data, ts, err := in.pr.Next()
	if err != nil {
		return nil, time.Time{}, false
	}
	return data, ts, true
}

// rtpDumpInput adapts RtpDumpReader's bare RTP/RTCP records (no
// Ethernet/IP/UDP framing) to engine.InputSource by wrapping each
// record in a minimal IPv4/UDP header (zero addresses and ports), so
// parser.Parse's LinkRaw path, which starts at the IP layer, can
// decode it.
type rtpDumpInput struct {
	name string
	f    *os.File
	rd   *iohandlers.RtpDumpReader
}

func (in *rtpDumpInput) Name() string                 { return in.name }
func (in *rtpDumpInput) LinkKind() parser.LinkLayerKind { return parser.LinkRaw }

func (in *rtpDumpInput) Next() ([]byte, time.Time, bool) {
	rec, err := in.rd.Next()
	if err != nil {
		return nil, time.Time{}, false
	}
	frame := make([]byte, 28+len(rec.Packet))
	frame[0] = 0x45 // IPv4, 20-byte header
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(frame)))
	frame[8] = 64 // TTL
	frame[9] = 17 // UDP
	binary.BigEndian.PutUint16(frame[24:26], uint16(8+len(rec.Packet)))
	copy(frame[28:], rec.Packet)
	return frame, time.Now().Add(time.Duration(rec.OffsetMS) * time.Millisecond), true
}

// fileSink routes all pull-side output (transcoded, merged group and
// QoS frames) to one pcap file: the --group_pcap path when set,
// otherwise the first -o file. Each
// frame arrives from the engine already packaged as a full
// Ethernet/IPv4/UDP/RTP frame, so Write is a direct passthrough to the
// pcap writer.
type fileSink struct {
	pcap *iohandlers.PcapWriter
	f    *os.File
}

func newFileSink(cfg config.Config) (*fileSink, error) {
	path := cfg.GroupPcapPath
	if path == "" && len(cfg.OutputFiles) > 0 {
		path = cfg.OutputFiles[0]
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := iohandlers.NewPcapWriter(f, layers.LinkTypeEthernet, 65535)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileSink{pcap: w, f: f}, nil
}

func (s *fileSink) Write(kind pipeline.QueueKind, frame pipeline.PulledFrame) error {
	return s.pcap.WriteFrame(frame.Payload, time.Now())
}

func (s *fileSink) Close() error { return s.f.Close() }
