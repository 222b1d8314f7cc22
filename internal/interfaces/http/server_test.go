package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConceptGuard/internal/config"
)

func TestNewServer(t *testing.T) {
	h := http.NotFoundHandler()
	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8088}, h, nil)
	assert.Equal(t, "127.0.0.1:8088", s.Addr())
	assert.NotNil(t, s.Handler())
	assert.Equal(t, 30*time.Second, s.shutdownTimeout)
}

func TestServer_StopEndsStart(t *testing.T) {
	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, http.NotFoundHandler(), nil)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
