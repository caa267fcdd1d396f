package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalrtp/rtpengine/codec"
	"github.com/signalrtp/rtpengine/group"
	"github.com/signalrtp/rtpengine/jitter"
	"github.com/signalrtp/rtpengine/pipeline"
)

type echoDecoder struct{}

func (echoDecoder) Decode(attrs codec.Attributes, payload []byte) ([]int16, error) {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = int16(b)
	}
	return out, nil
}

type echoEncoder struct{}

func (echoEncoder) Encode(attrs codec.Attributes, pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = byte(s)
	}
	return out, nil
}

func jitterCfg() jitter.Config {
	return jitter.Config{Ptime: 20 * time.Millisecond, MaxDelayPtimes: 10}
}

func TestPoolAssignFillFirstBalances(t *testing.T) {
	p := New(2, AllocFillFirst)
	for i := 0; i < 4; i++ {
		p.Assign(&SessionWork{Handle: 1})
	}
	assert.Len(t, p.workers[0].sessions, 2)
	assert.Len(t, p.workers[1].sessions, 2)
}

func TestPoolDrainSessionDecodesAndEncodes(t *testing.T) {
	p := New(1, AllocFillFirst)
	buf := jitter.NewBuffer(jitterCfg())

	sw := &SessionWork{
		Buffers:   [2]*jitter.Buffer{buf, nil},
		PushQueue: make(chan PushItem, 4),
		PullQueue: make(chan PullItem, 4),
		Decoder:   echoDecoder{},
		Encoder:   echoEncoder{},
	}

	now := time.Now()
	sw.PushQueue <- PushItem{TermIndex: 0, Packet: jitter.Packet{Seq: 1, Payload: []byte{1, 2, 3}, Arrival: now}}
	close(sw.PushQueue)

	did := p.drainSession(sw, now)
	require.True(t, did)

	select {
	case out := <-sw.PullQueue:
		assert.Equal(t, []byte{1, 2, 3}, out.Payload)
	default:
		t.Fatal("expected a pulled item")
	}
}

func TestPoolDrainSessionEmitsGroupOutput(t *testing.T) {
	p := New(1, AllocWholeGroupPerThread)
	buf := jitter.NewBuffer(jitterCfg())
	g := group.New("call-1", 0, group.DefaultConfig())
	g.AddContributor(0)

	sw := &SessionWork{
		Buffers:      [2]*jitter.Buffer{buf, nil},
		PushQueue:    make(chan PushItem, 4),
		PullQueue:    make(chan PullItem, 4),
		Decoder:      echoDecoder{},
		GroupEngine:  g,
		GroupEncoder: echoEncoder{},
		Contributor:  0,
	}

	now := time.Now()
	sw.PushQueue <- PushItem{TermIndex: 0, Packet: jitter.Packet{Seq: 1, Payload: []byte{1, 2, 3}, Arrival: now}}
	close(sw.PushQueue)

	did := p.drainSession(sw, now)
	require.True(t, did)

	select {
	case out := <-sw.PullQueue:
		assert.Equal(t, pipeline.QueueGroupOutput, out.Kind)
		assert.Equal(t, []byte{1, 2, 3}, out.Payload)
	default:
		t.Fatal("expected a pulled group-output item")
	}
}

func TestPoolFlushGroupDrainsPendingSlot(t *testing.T) {
	p := New(1, AllocFillFirst)
	g := group.New("call-2", 0, group.DefaultConfig())
	g.AddContributor(0)
	g.AddContributor(1)
	g.Align(group.ContributorFrame{Contributor: 0, At: time.Now(), PCM: []int16{1, 2, 3}})

	sw := &SessionWork{
		PullQueue:    make(chan PullItem, 4),
		GroupEngine:  g,
		GroupEncoder: echoEncoder{},
	}

	p.FlushGroup(sw)

	select {
	case out := <-sw.PullQueue:
		assert.Equal(t, pipeline.QueueGroupOutput, out.Kind)
	default:
		t.Fatal("expected FlushGroup to emit the pending slot")
	}
}

func TestPoolRunExitsOnContextCancel(t *testing.T) {
	p := New(1, AllocFillFirst)
	p.EnergySaverIdle = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not exit after cancel")
	}
}
