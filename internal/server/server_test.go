package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/clusterops/powerbalance/internal/budget"
	"github.com/clusterops/powerbalance/internal/coordinator"
)

func newTestState(t *testing.T) *coordinator.ClusterState {
	t.Helper()
	logger := zerolog.Nop()
	budgetGen := budget.NewTriangularSweep(0, 0, 4, time.Now())
	return coordinator.New(coordinator.Options{
		TotalNodes:      4,
		ExperimentStart: time.Now(),
	}, budgetGen, nil, nil, nil, nil, nil, &logger)
}

// TestServer_AcceptsConnectionAndCompletesHandshake binds an ephemeral
// port, dials it, and confirms a full handshake/cap round-trip through
// the real accept loop and session goroutine.
func TestServer_AcceptsConnectionAndCompletesHandshake(t *testing.T) {
	cs := newTestState(t)
	logger := zerolog.Nop()

	srv, err := Listen("127.0.0.1", 0, cs, &logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)
	_, err = w.WriteString("2\n150\nprofile\n")
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "280\n", line)
	require.Equal(t, 1, cs.ActiveCount())

	cancel()
	srv.Shutdown()

	select {
	case <-serveDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

// Shutdown must wait for in-flight sessions to drain before returning.
func TestServer_ShutdownWaitsForInFlightSessions(t *testing.T) {
	cs := newTestState(t)
	logger := zerolog.Nop()

	srv, err := Listen("127.0.0.1", 0, cs, &logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	w := bufio.NewWriter(conn)
	_, err = w.WriteString("1\n150\nprofile\n")
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, cs.ActiveCount())

	cancel()
	shutdownDone := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return once sessions drained")
	}
}
