package server_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridprotocol/newsletter/internal/server"
)

type calls struct {
	mu    sync.Mutex
	order []string
}

func (c *calls) hook(name string, err error) server.Hook {
	return func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.order = append(c.order, name)
		return err
	}
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func TestServer_Run(t *testing.T) {
	t.Parallel()

	var c calls
	addrCh := make(chan net.Addr, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})

	srv := server.New(server.Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, handler,
		server.WithStartHook(c.hook("start-1", nil), c.hook("start-2", nil)),
		server.WithShutdownHook(c.hook("stop", nil)),
		server.OnListening(func(a net.Addr) { addrCh <- a }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr.String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, []string{"start-1", "start-2", "stop"}, c.list())
}

func TestServer_StartHookFails(t *testing.T) {
	t.Parallel()

	var c calls
	boom := errors.New("boom")
	srv := server.New(server.Config{Addr: "127.0.0.1:0"}, http.NotFoundHandler(),
		server.WithStartHook(c.hook("start-1", boom), c.hook("start-2", nil)),
		server.WithShutdownHook(c.hook("stop", nil)),
	)

	err := srv.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start-1", "stop"}, c.list())
}

func TestServer_ShutdownHookErrorsJoined(t *testing.T) {
	t.Parallel()

	var c calls
	e1, e2 := errors.New("first"), errors.New("second")
	srv := server.New(server.Config{Addr: "127.0.0.1:0"}, http.NotFoundHandler(),
		server.WithShutdownHook(c.hook("a", e1), c.hook("b", e2)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := srv.Run(ctx)
	require.ErrorIs(t, err, e1)
	require.ErrorIs(t, err, e2)
	assert.Equal(t, []string{"a", "b"}, c.list())
}

func TestServer_ListenError(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var c calls
	srv := server.New(server.Config{Addr: ln.Addr().String()}, http.NotFoundHandler(),
		server.WithShutdownHook(c.hook("stop", nil)),
	)
	require.Error(t, srv.Run(context.Background()))
	assert.Equal(t, []string{"stop"}, c.list())
}
