package protocolio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback lets a single Conn read what was written to it, for
// round-trip tests that don't need a real socket.
type loopback struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }

func newLoopback(script string) *loopback {
	return &loopback{in: bytes.NewBufferString(script), out: &bytes.Buffer{}}
}

func TestReadHandshake_Valid(t *testing.T) {
	lb := newLoopback("4\n230.5\nminiapp-a\n")
	c := NewConn(lb)

	hs, err := c.ReadHandshake()
	require.NoError(t, err)
	assert.Equal(t, 4, hs.HostCount)
	assert.Equal(t, 230.5, hs.InitialPower)
	assert.Equal(t, "miniapp-a", hs.Profile)
}

func TestReadHandshake_RejectsNonPositiveHostCount(t *testing.T) {
	lb := newLoopback("0\n230.5\nminiapp-a\n")
	c := NewConn(lb)

	_, err := c.ReadHandshake()
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestReadHandshake_RejectsNonFiniteInitialPower(t *testing.T) {
	lb := newLoopback("4\nNaN\nminiapp-a\n")
	c := NewConn(lb)

	_, err := c.ReadHandshake()
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestReadSample_Valid(t *testing.T) {
	lb := newLoopback("210.2,5,220,1.2,0.8,225,1.1\n")
	c := NewConn(lb)

	s, err := c.ReadSample()
	require.NoError(t, err)
	assert.Equal(t, 210.2, s.MeasuredPower)
	assert.Equal(t, 5.0, s.EpochCount)
	assert.Equal(t, 1.1, s.ProgressDuration)
}

func TestReadSample_AllowsNaNExceptMeasuredPower(t *testing.T) {
	lb := newLoopback("210.2,NaN,NaN,NaN,0.8,225,1.1\n")
	c := NewConn(lb)

	s, err := c.ReadSample()
	require.NoError(t, err)
	assert.True(t, s.EpochCount != s.EpochCount) // NaN
}

func TestReadSample_RejectsNaNMeasuredPower(t *testing.T) {
	lb := newLoopback("NaN,5,220,1.2,0.8,225,1.1\n")
	c := NewConn(lb)

	_, err := c.ReadSample()
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestReadSample_RejectsWrongFieldCount(t *testing.T) {
	lb := newLoopback("210.2,5,220\n")
	c := NewConn(lb)

	_, err := c.ReadSample()
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestReadLine_EOFAtBoundaryIsClosed(t *testing.T) {
	lb := newLoopback("")
	c := NewConn(lb)

	_, err := c.ReadSample()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadLine_EOFMidRecordIsProtocolError(t *testing.T) {
	lb := newLoopback("210.2,5")
	c := NewConn(lb)

	_, err := c.ReadSample()
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestWriteCap_RoundTrips(t *testing.T) {
	lb := newLoopback("")
	c := NewConn(lb)
	require.NoError(t, c.WriteCap(225.5))

	reader := NewConn(&loopback{in: bytes.NewBuffer(lb.out.Bytes()), out: &bytes.Buffer{}})
	line, err := reader.readLine()
	require.NoError(t, err)
	assert.Equal(t, "225.5", line)
}
