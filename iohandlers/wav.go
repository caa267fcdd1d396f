package iohandlers

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// seekWriter is an alias for io.WriteSeeker (e.g. *os.File); group
// output always targets a seekable file since the wav encoder rewrites
// its header on Close.
type seekWriter = io.WriteSeeker

// WavGroupWriter writes a stream group's merged (or N-channel,
// interleaved) PCM output as a WAV file, using go-audio/wav.
type WavGroupWriter struct {
	enc *wav.Encoder

	sampleRate int
	numChans   int
	bitDepth   int
}

// NewWavGroupWriter opens a WAV encoder for a group's merged mono
// output, or N-channel output when FlagWavOutputNChannel is set on the
// group (numChans > 1).
func NewWavGroupWriter(w seekWriter, sampleRate, numChans int) *WavGroupWriter {
	enc := wav.NewEncoder(w, sampleRate, 16, numChans, 1)
	return &WavGroupWriter{enc: enc, sampleRate: sampleRate, numChans: numChans, bitDepth: 16}
}

// WriteFrame writes one interleaved PCM frame (already merged for
// mono, or per-contributor-interleaved for N-channel output).
func (g *WavGroupWriter) WriteFrame(samples []int16) error {
	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: g.numChans, SampleRate: g.sampleRate},
		Data:           ints,
		SourceBitDepth: g.bitDepth,
	}
	return g.enc.Write(buf)
}

// Close finalizes the WAV header: go-audio/wav rewrites the RIFF
// size/data-chunk-size fields on Close.
func (g *WavGroupWriter) Close() error {
	return g.enc.Close()
}
