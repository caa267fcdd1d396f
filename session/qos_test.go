package session

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQoSReporterReportsReceiverOnlyWithNoSend(t *testing.T) {
	q := &QoSReporter{}
	q.RecordReceive(0xaaaa, 1)
	q.RecordReceive(0xaaaa, 2)

	pkt := q.Report(time.Now())
	rr, ok := pkt.(*rtcp.ReceiverReport)
	require.True(t, ok)
	assert.Equal(t, uint32(0xaaaa), rr.SSRC)
	require.Len(t, rr.Reports, 1)
	assert.Equal(t, uint32(0), rr.Reports[0].TotalLost)
}

func TestQoSReporterReportsSenderAfterSend(t *testing.T) {
	q := &QoSReporter{}
	q.RecordSend(0xbbbb, 160, 8000)
	q.RecordSend(0xbbbb, 160, 8160)

	pkt := q.Report(time.Now())
	sr, ok := pkt.(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, uint32(0xbbbb), sr.SSRC)
	assert.Equal(t, uint32(2), sr.PacketCount)
	assert.Equal(t, uint32(320), sr.OctetCount)
}

func TestQoSReporterTracksLossFromSequenceGaps(t *testing.T) {
	q := &QoSReporter{}
	q.RecordReceive(1, 1)
	q.RecordReceive(1, 2)
	q.RecordReceive(1, 5) // gap of 2 missing packets (3, 4)

	pkt := q.Report(time.Now())
	rr := pkt.(*rtcp.ReceiverReport)
	assert.Equal(t, uint32(2), rr.Reports[0].TotalLost)
	assert.Equal(t, uint32(5), rr.Reports[0].LastSequenceNumber)
}
