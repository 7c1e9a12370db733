package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/rentflow/internal/profile"
	"github.com/hrygo/rentflow/store/cache"
	storetest "github.com/hrygo/rentflow/store/test"
)

func newTestServer(t *testing.T, backend string) *Server {
	t.Helper()
	ctx := context.Background()
	st := storetest.NewTestingStore(ctx, t)
	p := &profile.Profile{
		Mode:            "dev",
		Data:            t.TempDir(),
		Driver:          "sqlite",
		SnapshotBackend: backend,
		SweepSpec:       "off",
		CacheTTL:        map[string]time.Duration{"rentals": time.Minute},
	}
	s, err := NewServer(ctx, p, st)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.loaders.Close()
		_ = s.cache.Dispose()
	})
	return s
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, "none")

	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SnapshotSlot(t *testing.T) {
	tests := []struct {
		backend string
		check   func(t *testing.T, slot cache.Slot)
	}{
		{"none", func(t *testing.T, slot cache.Slot) { assert.IsType(t, cache.NopSlot{}, slot) }},
		{"file", func(t *testing.T, slot cache.Slot) { assert.IsType(t, &cache.FileSlot{}, slot) }},
		{"database", func(t *testing.T, slot cache.Slot) {
			require.NoError(t, slot.Save(context.Background(), []byte(`{"entries":[]}`)))
			got, err := slot.Load(context.Background())
			require.NoError(t, err)
			assert.JSONEq(t, `{"entries":[]}`, string(got))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			s := newTestServer(t, tt.backend)
			slot, err := s.snapshotSlot(context.Background())
			require.NoError(t, err)
			tt.check(t, slot)
		})
	}

	s := newTestServer(t, "none")
	s.Profile.SnapshotBackend = "floppy"
	_, err := s.snapshotSlot(context.Background())
	assert.Error(t, err)
}

func TestServer_CacheTTLFromProfile(t *testing.T) {
	s := newTestServer(t, "none")
	assert.Equal(t, time.Minute, s.cache.TTL(cache.KindRentals))
	assert.Equal(t, cache.DefaultTTL(cache.KindClients), s.cache.TTL(cache.KindClients))
}
