package common

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) Idem {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{R: client}
}

func TestIdemRejectsReplay(t *testing.T) {
	idem := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		JSON(w, http.StatusOK, map[string]string{"ok": "true"})
	}))

	send := func(path, key string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send("/sessions/a/confirm", "k1"))
	require.Equal(t, http.StatusConflict, send("/sessions/a/confirm", "k1"))
	require.Equal(t, http.StatusOK, send("/sessions/b/confirm", "k1"), "keys are scoped per path")
	require.Equal(t, http.StatusOK, send("/sessions/a/confirm", ""))
	require.Equal(t, http.StatusOK, send("/sessions/a/confirm", ""))
	require.Equal(t, 4, calls)
}

func TestIdemReleasesKeyAfterServerError(t *testing.T) {
	idem := newIdem(t)
	status := http.StatusServiceUnavailable
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			JSONError(w, status, "NETWORK_FAILURE", "try again", nil)
			return
		}
		JSON(w, status, map[string]string{"ok": "true"})
	}))

	req := func() int {
		r := httptest.NewRequest(http.MethodPost, "/sessions/a/confirm", nil)
		r.Header.Set("Idempotency-Key", "retry-me")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	require.Equal(t, http.StatusServiceUnavailable, req())
	status = http.StatusOK
	require.Equal(t, http.StatusOK, req())
	require.Equal(t, http.StatusConflict, req())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4411"
	require.Equal(t, "10.0.0.9", ClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	require.Equal(t, "10.0.0.2", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	require.Equal(t, "10.0.0.2", ClientIP(req), "invalid forwarded value is skipped")
}
