// Package protocolio implements the cluster-to-job wire codec: the
// newline-delimited ASCII handshake, sample, and cap-response records
// described in spec.md 4.1 and 6.
package protocolio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/clusterops/powerbalance/pkg/models"
)

// ErrClosed signals a normal EOF at a record boundary: the peer hung up
// between records, not mid-record.
var ErrClosed = errors.New("protocolio: session closed")

// ProtocolError wraps a malformed line: bad field count, unparsable
// numeric field, or a required-finite field that was not finite.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocolio: malformed record %q: %s", e.Line, e.Reason)
}

// TransportError wraps a read/write failure that is not a clean EOF.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("protocolio: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Conn wraps a net.Conn-shaped stream with line-buffered reads and
// flush-after-write semantics required by spec.md 4.1.
type Conn struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewConn adapts any io.ReadWriter (a net.Conn in production, an
// in-memory pipe in tests) into a Conn.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: bufio.NewWriter(rw)}
}

func (c *Conn) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line == "" {
				return "", ErrClosed
			}
			return "", &ProtocolError{Line: line, Reason: "EOF mid-record"}
		}
		return "", &TransportError{Op: "read", Err: err}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Conn) writeLine(s string) error {
	if _, err := c.w.WriteString(s); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if err := c.w.Flush(); err != nil {
		return &TransportError{Op: "flush", Err: err}
	}
	return nil
}

// ReadHandshake reads the three-line inbound handshake: hostCount,
// initialPower, profile.
func (c *Conn) ReadHandshake() (models.Handshake, error) {
	hostLine, err := c.readLine()
	if err != nil {
		return models.Handshake{}, err
	}
	hostCount, err := strconv.Atoi(strings.TrimSpace(hostLine))
	if err != nil || hostCount < 1 {
		return models.Handshake{}, &ProtocolError{Line: hostLine, Reason: "hostCount must be a positive integer"}
	}

	powerLine, err := c.readLine()
	if err != nil {
		return models.Handshake{}, err
	}
	initialPower, err := strconv.ParseFloat(strings.TrimSpace(powerLine), 64)
	if err != nil || math.IsNaN(initialPower) || math.IsInf(initialPower, 0) {
		return models.Handshake{}, &ProtocolError{Line: powerLine, Reason: "initialPower must be a finite real"}
	}

	profileLine, err := c.readLine()
	if err != nil {
		return models.Handshake{}, err
	}

	return models.Handshake{
		HostCount:    hostCount,
		InitialPower: initialPower,
		Profile:      profileLine,
	}, nil
}

// WriteInitialCap sends the one-line handshake response.
func (c *Conn) WriteInitialCap(cap float64) error {
	return c.writeLine(formatFloat(cap))
}

// ReadSample reads one per-tick sample line: seven comma-separated
// numeric fields. Any field but measuredPower may be NaN; infinite values
// are not rejected here.
func (c *Conn) ReadSample() (models.Sample, error) {
	line, err := c.readLine()
	if err != nil {
		return models.Sample{}, err
	}

	fields := strings.Split(line, ",")
	if len(fields) != 7 {
		return models.Sample{}, &ProtocolError{Line: line, Reason: fmt.Sprintf("expected 7 fields, got %d", len(fields))}
	}

	values := make([]float64, 7)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return models.Sample{}, &ProtocolError{Line: line, Reason: fmt.Sprintf("field %d: %v", i, err)}
		}
		values[i] = v
	}
	if math.IsNaN(values[0]) {
		return models.Sample{}, &ProtocolError{Line: line, Reason: "measuredPower must not be NaN"}
	}

	return models.Sample{
		MeasuredPower:    values[0],
		EpochCount:       values[1],
		EpochCap:         values[2],
		EpochDuration:    values[3],
		Progress:         values[4],
		ProgressCap:      values[5],
		ProgressDuration: values[6],
	}, nil
}

// WriteCap sends the one-line per-tick cap response.
func (c *Conn) WriteCap(cap float64) error {
	return c.writeLine(formatFloat(cap))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
