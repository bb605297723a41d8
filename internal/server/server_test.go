package server_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/enunu-service/internal/client"
	"github.com/book-expert/enunu-service/internal/core"
	"github.com/book-expert/enunu-service/internal/dispatch"
	"github.com/book-expert/enunu-service/internal/jobctx"
	"github.com/book-expert/enunu-service/internal/server"
	"github.com/book-expert/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Second

// echoHandler answers every request with {"result": {"echo": <request>}} and
// tracks how many requests are in flight at once.
type echoHandler struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
	hold        time.Duration
	entered     chan struct{}
	release     chan struct{}
}

func (h *echoHandler) Handle(ctx context.Context, request []byte) []byte {
	current := h.inFlight.Add(1)
	defer h.inFlight.Add(-1)

	for {
		seen := h.maxInFlight.Load()
		if current <= seen || h.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	h.calls.Add(1)

	if h.entered != nil {
		h.entered <- struct{}{}
	}

	if h.release != nil {
		<-h.release
	}

	if h.hold > 0 {
		time.Sleep(h.hold)
	}

	if ctx.Err() != nil {
		return []byte(`{"error": "handler context was cancelled"}`)
	}

	reply, _ := json.Marshal(map[string]map[string]string{"result": {"echo": string(request)}})

	return reply
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	return log
}

func startServer(t *testing.T, handler server.Handler) (*server.Server, context.CancelFunc, <-chan error) {
	t.Helper()

	srv, err := server.New("tcp://127.0.0.1:0", handler, newLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errChan := make(chan error, 1)

	go func() {
		errChan <- srv.Run(ctx)
	}()

	return srv, cancel, errChan
}

func dial(t *testing.T, srv *server.Server) *client.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)

	c, err := client.Dial(ctx, "tcp://"+srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func waitForExit(t *testing.T, errChan <-chan error) {
	t.Helper()

	select {
	case err := <-errChan:
		require.NoError(t, err, "Run should not error on graceful shutdown")
	case <-time.After(testTimeout):
		t.Fatal("server did not stop after cancellation")
	}
}

func TestServer_RequestReply(t *testing.T) {
	t.Parallel()

	handler := &echoHandler{}
	srv, cancel, errChan := startServer(t, handler)
	c := dial(t, srv)

	for _, path := range []string{"/jobs/a.ust", "/jobs/b.ust", "/jobs/a.ust"} {
		response, err := c.Call("timing", path)
		require.NoError(t, err)
		require.False(t, response.Failed())
		assert.JSONEq(t, `["timing", "`+path+`"]`, response.Result["echo"])
	}

	raw, err := c.Send([]byte(`not json`))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "not json", "raw payloads reach the handler untouched")
	assert.Equal(t, int32(4), handler.calls.Load())

	cancel()
	waitForExit(t, errChan)
}

func TestServer_OneRequestAtATime(t *testing.T) {
	t.Parallel()

	handler := &echoHandler{hold: 50 * time.Millisecond}
	srv, cancel, errChan := startServer(t, handler)

	const clients = 4

	var waitGroup sync.WaitGroup

	for range clients {
		c := dial(t, srv)

		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			response, err := c.Call("acoustic", "/jobs/song.ust")
			assert.NoError(t, err)
			assert.False(t, response.Failed())
		}()
	}

	waitGroup.Wait()

	assert.Equal(t, int32(clients), handler.calls.Load())
	assert.Equal(t, int32(1), handler.maxInFlight.Load(), "requests must never overlap")

	cancel()
	waitForExit(t, errChan)
}

func TestServer_ShutdownWhileIdle(t *testing.T) {
	t.Parallel()

	_, cancel, errChan := startServer(t, &echoHandler{})

	time.Sleep(50 * time.Millisecond)
	cancel()
	waitForExit(t, errChan)
}

func TestServer_ShutdownFinishesRequestInFlight(t *testing.T) {
	t.Parallel()

	handler := &echoHandler{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	srv, cancel, errChan := startServer(t, handler)
	c := dial(t, srv)

	replies := make(chan []byte, 1)

	go func() {
		raw, err := c.Send([]byte(`["timing", "/jobs/song.ust"]`))
		assert.NoError(t, err)
		replies <- raw
	}()

	select {
	case <-handler.entered:
	case <-time.After(testTimeout):
		t.Fatal("request never reached the handler")
	}

	cancel()
	close(handler.release)

	select {
	case raw := <-replies:
		assert.Contains(t, string(raw), "result", "handler context is not cancelled by shutdown")
	case <-time.After(testTimeout):
		t.Fatal("request in flight was not answered")
	}

	waitForExit(t, errChan)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	_, err := server.New("", &echoHandler{}, newLogger(t))
	require.ErrorIs(t, err, server.ErrEndpointEmpty)

	_, err = server.New("bogus://nowhere", &echoHandler{}, newLogger(t))
	require.Error(t, err)
}

type stubStages struct{}

func (stubStages) RunTiming(_ context.Context, _ string) (core.TimingResult, error) {
	return core.TimingResult{FullTiming: "/work/full.lab", MonoTiming: "/work/mono.lab"}, nil
}

func (stubStages) RunAcoustic(_ context.Context, _ string) (core.AcousticResult, error) {
	return core.AcousticResult{}, nil
}

type stubResetter struct{}

func (stubResetter) Reset(_ string) error {
	return nil
}

func TestServer_SurvivesFrameWithoutDelimiter(t *testing.T) {
	t.Parallel()

	handler := &echoHandler{}
	srv, cancel, errChan := startServer(t, handler)

	dealerCtx, dealerCancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(dealerCancel)

	dealer := zmq4.NewDealer(dealerCtx)
	t.Cleanup(func() { _ = dealer.Close() })

	require.NoError(t, dealer.Dial("tcp://"+srv.Addr().String()))
	require.NoError(t, dealer.Send(zmq4.NewMsg([]byte(`["timing", "/jobs/song.ust"]`))))

	// Let the stray frame reach the reply socket before the real request.
	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-errChan:
		t.Fatalf("Run stopped after a stray frame: %v", err)
	default:
	}

	response, err := dial(t, srv).Call("timing", "/jobs/song.ust")
	require.NoError(t, err)
	assert.False(t, response.Failed())
	assert.Equal(t, int32(1), handler.calls.Load(), "the stray frame never reaches the handler")

	cancel()
	waitForExit(t, errChan)
}

func TestServer_MalformedPayloadThenValidRequest(t *testing.T) {
	t.Parallel()

	log := newLogger(t)
	resolver := jobctx.NewResolver(t.TempDir(), "", "")
	dispatcher := dispatch.New(stubStages{}, resolver, stubResetter{}, log)

	srv, cancel, errChan := startServer(t, dispatcher)
	c := dial(t, srv)

	raw, err := c.Send([]byte(`this is not json`))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "malformed request")

	response, err := c.Call("timing", "/jobs/song.ust")
	require.NoError(t, err)
	require.False(t, response.Failed())
	assert.Equal(t, "/work/full.lab", response.Result[dispatch.KeyFullTiming])

	cancel()
	waitForExit(t, errChan)
}

func TestServer_ClosedOnShutdown(t *testing.T) {
	t.Parallel()

	srv, cancel, errChan := startServer(t, &echoHandler{})
	endpoint := "tcp://" + srv.Addr().String()

	cancel()
	waitForExit(t, errChan)

	rebound, err := server.New(endpoint, &echoHandler{}, newLogger(t))
	require.NoError(t, err, "Run releases the endpoint before returning")
	t.Cleanup(func() { _ = rebound.Close() })
}
