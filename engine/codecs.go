package engine

import (
	"fmt"

	"github.com/zaf/g711"

	"github.com/signalrtp/rtpengine/codec"
)

// g711Codec adapts the zaf/g711 frame codec to the worker package's
// Decoder/Encoder interfaces, converting its byte-per-sample frames to
// the []int16 PCM shape the jitter buffer and stream-group engine
// operate on.
type g711Codec struct {
	law codec.Type
}

func newG711Codec(law codec.Type) *g711Codec { return &g711Codec{law: law} }

func (c *g711Codec) Decode(attrs codec.Attributes, payload []byte) ([]int16, error) {
	pcm := make([]int16, len(payload))
	switch c.law {
	case codec.TypeG711Ulaw:
		for i, b := range payload {
			pcm[i] = g711.DecodeUlawFrame(b)
		}
	case codec.TypeG711Alaw:
		for i, b := range payload {
			pcm[i] = g711.DecodeAlawFrame(b)
		}
	default:
		return nil, fmt.Errorf("engine: g711Codec decode: unsupported law %v", c.law)
	}
	return pcm, nil
}

func (c *g711Codec) Encode(attrs codec.Attributes, pcm []int16) ([]byte, error) {
	payload := make([]byte, len(pcm))
	switch c.law {
	case codec.TypeG711Ulaw:
		for i, s := range pcm {
			payload[i] = g711.EncodeUlawFrame(s)
		}
	case codec.TypeG711Alaw:
		for i, s := range pcm {
			payload[i] = g711.EncodeAlawFrame(s)
		}
	default:
		return nil, fmt.Errorf("engine: g711Codec encode: unsupported law %v", c.law)
	}
	return payload, nil
}

// passthroughCodec decodes/encodes by reinterpreting bytes as PCM
// samples unchanged, used for codecs with no dedicated transcoder
// (e.g. already-linear L16, or a detected type the engine only relays
// rather than transcodes).
type passthroughCodec struct{}

func (passthroughCodec) Decode(attrs codec.Attributes, payload []byte) ([]int16, error) {
	pcm := make([]int16, len(payload)/2)
	for i := range pcm {
		pcm[i] = int16(payload[2*i]) | int16(payload[2*i+1])<<8
	}
	return pcm, nil
}

func (passthroughCodec) Encode(attrs codec.Attributes, pcm []int16) ([]byte, error) {
	payload := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		payload[2*i] = byte(s)
		payload[2*i+1] = byte(s >> 8)
	}
	return payload, nil
}

// transcoderFor picks a worker.Decoder/Encoder pair for a termination's
// codec type, feeding the worker pool's decode -> PCM -> encode pipeline.
func transcoderFor(t codec.Type) (decoder interface {
	Decode(codec.Attributes, []byte) ([]int16, error)
}, encoder interface {
	Encode(codec.Attributes, []int16) ([]byte, error)
}) {
	switch t {
	case codec.TypeG711Ulaw:
		c := newG711Codec(codec.TypeG711Ulaw)
		return c, c
	case codec.TypeG711Alaw:
		c := newG711Codec(codec.TypeG711Alaw)
		return c, c
	default:
		c := passthroughCodec{}
		return c, c
	}
}
