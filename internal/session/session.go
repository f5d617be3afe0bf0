// Package session implements the per-connection endpoint state machine
// (C2): AwaitHandshake -> AwaitSample -> InBarrier -> SendCap ->
// AwaitSample (loop), -> Closed on EOF/IO error, per spec.md 4.2.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/clusterops/powerbalance/internal/coordinator"
	"github.com/clusterops/powerbalance/internal/metrics"
	"github.com/clusterops/powerbalance/internal/powerlimits"
	"github.com/clusterops/powerbalance/internal/protocolio"
)

// Run drives one connection end-to-end: handshake, then the
// sample/barrier/cap loop, until EOF, a protocol error, a transport
// error, or ctx cancellation. It always removes the endpoint from the
// coordinator on the way out, if registration succeeded.
func Run(ctx context.Context, conn net.Conn, cs *coordinator.ClusterState, logger *zerolog.Logger) {
	defer conn.Close()

	addr := conn.RemoteAddr().String()
	pconn := protocolio.NewConn(conn)
	log := logger.With().Str("peer", addr).Logger()

	hs, err := pconn.ReadHandshake()
	if err != nil {
		logTermination(&log, "handshake", err)
		return
	}

	_, initialCap := cs.Register(addr, hs)
	if err := pconn.WriteInitialCap(initialCap); err != nil {
		logTermination(&log, "initial-cap-write", err)
		cs.Remove(ctx, addr)
		metrics.SessionsTotal.WithLabelValues("transport_error").Inc()
		return
	}

	reason := loop(ctx, pconn, cs, addr, &log)
	cs.Remove(ctx, addr)
	metrics.SessionsTotal.WithLabelValues(reason).Inc()
}

func loop(ctx context.Context, pconn *protocolio.Conn, cs *coordinator.ClusterState, addr string, log *zerolog.Logger) string {
	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		default:
		}

		sample, err := pconn.ReadSample()
		if err != nil {
			logTermination(log, "sample-read", err)
			return terminationReason(err)
		}

		cap, ok := cs.Sample(ctx, addr, sample)
		if !ok {
			return "removed_mid_generation"
		}

		if err := pconn.WriteCap(cap); err != nil {
			logTermination(log, "cap-write", err)
			return terminationReason(err)
		}

		select {
		case <-ctx.Done():
			return "shutdown"
		case <-time.After(powerlimits.TickSpacing):
		}
	}
}

func terminationReason(err error) string {
	var pe *protocolio.ProtocolError
	if errors.As(err, &pe) {
		return "protocol_error"
	}
	var te *protocolio.TransportError
	if errors.As(err, &te) {
		return "transport_error"
	}
	if errors.Is(err, protocolio.ErrClosed) || errors.Is(err, io.EOF) {
		return "closed"
	}
	return "unknown"
}

func logTermination(log *zerolog.Logger, stage string, err error) {
	if errors.Is(err, protocolio.ErrClosed) {
		log.Debug().Str("stage", stage).Msg("session closed")
		return
	}
	var pe *protocolio.ProtocolError
	if errors.As(err, &pe) {
		log.Warn().Str("stage", stage).Err(err).Msg("protocol error, closing session")
		return
	}
	log.Warn().Str("stage", stage).Err(err).Msg("transport error, closing session")
}
