package channel

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"skillbot/internal/app"
	"skillbot/internal/config"
	"skillbot/internal/entity"
	"skillbot/internal/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Workflow.SubmitMode = "confirmed"
	a, err := app.New(cfg, testLogger(), app.Options{
		Storage:  memory.NewInMemoryStore(),
		Entities: entity.NewMemoryRepository(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func newTestServer(t *testing.T, a *app.App, mutate func(*ServerConfig)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := ServerConfig{
		WSPath:      "/ws",
		MetricsPath: "/metrics",
		Hub:         a.Hub,
		Store:       a.Store,
		Manager:     a.Manager,
		Catalog:     a.Catalog,
		Ready:       a.Ready,
		Logger:      testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewServer(cfg)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.ws.CloseAll()
		srv.Close()
	})
	return s, srv
}
