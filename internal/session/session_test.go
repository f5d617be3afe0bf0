package session

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

// TestRun_HandshakeThenOneSampleRoundTrip drives a full client/server
// handshake and one sample tick over an in-memory pipe, verifying the
// session writes a well-formed initial cap and per-tick cap line.
func TestRun_HandshakeThenOneSampleRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	cs := newTestState(t)
	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		Run(ctx, serverConn, cs, &logger)
		close(done)
	}()

	clientW := bufio.NewWriter(clientConn)
	clientR := bufio.NewReader(clientConn)

	_, err := clientW.WriteString("4\n200\nmy-profile\n")
	require.NoError(t, err)
	require.NoError(t, clientW.Flush())

	initialCap, err := clientR.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "280\n", initialCap)

	_, err = clientW.WriteString("200,1,200,10,1,200,10\n")
	require.NoError(t, err)
	require.NoError(t, clientW.Flush())

	capLine, err := clientR.ReadString('\n')
	require.NoError(t, err)
	require.NotEmpty(t, capLine)

	clientConn.Close()
	<-done
}

// A malformed handshake line must terminate the session without
// registering an endpoint or hanging.
func TestRun_MalformedHandshakeTerminatesSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	cs := newTestState(t)
	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		Run(ctx, serverConn, cs, &logger)
		close(done)
	}()

	clientW := bufio.NewWriter(clientConn)
	_, err := clientW.WriteString("not-a-number\n200\nprofile\n")
	require.NoError(t, err)
	require.NoError(t, clientW.Flush())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate on malformed handshake")
	}
	require.Equal(t, 0, cs.ActiveCount())
}

// Cancelling ctx mid-session must unblock the session's pending read via
// the connection close, rather than hang until a client-side timeout.
func TestRun_ContextCancellationUnblocksSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	cs := newTestState(t)
	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, serverConn, cs, &logger)
		close(done)
	}()

	clientW := bufio.NewWriter(clientConn)
	clientR := bufio.NewReader(clientConn)
	_, err := clientW.WriteString("4\n200\nprofile\n")
	require.NoError(t, err)
	require.NoError(t, clientW.Flush())
	_, err = clientR.ReadString('\n')
	require.NoError(t, err)

	go func() {
		<-ctx.Done()
		serverConn.Close()
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate on context cancellation")
	}
}
