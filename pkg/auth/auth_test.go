package auth

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mselser95/parimutuel/pkg/clock"
	"github.com/mselser95/parimutuel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedRequest(t *testing.T, s *Signer, method, path string, body []byte, at time.Time) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	require.NoError(t, s.Sign(r, body, at))
	return r
}

func newSigner(t *testing.T) *Signer {
	t.Helper()
	key, addr, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSigner(key)
	require.NoError(t, err)
	assert.Equal(t, addr, s.Address())
	return s
}

func TestSignatureVerifier_RoundTrip(t *testing.T) {
	s := newSigner(t)
	v := NewSignatureVerifier(time.Minute, clock.NewManual(now))

	body := []byte(`{"amount":300,"position":"YES"}`)
	r := signedRequest(t, s, http.MethodPost, "/api/markets/m1/stakes", body, now)

	id, err := v.Verify(r, body)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), id)
}

func TestSignatureVerifier_Rejects(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)
	v := NewSignatureVerifier(time.Minute, clock.NewManual(now))
	body := []byte(`{"amount":300}`)

	t.Run("tampered-body", func(t *testing.T) {
		r := signedRequest(t, s, http.MethodPost, "/api/markets/m1/stakes", body, now)
		_, err := v.Verify(r, []byte(`{"amount":900}`))
		assert.True(t, errors.Is(err, types.ErrUnauthorized), "got %v", err)
	})

	t.Run("different-path", func(t *testing.T) {
		r := signedRequest(t, s, http.MethodPost, "/api/markets/m1/stakes", body, now)
		r.URL.Path = "/api/markets/m2/stakes"
		_, err := v.Verify(r, body)
		assert.True(t, errors.Is(err, types.ErrUnauthorized))
	})

	t.Run("claimed-identity-mismatch", func(t *testing.T) {
		r := signedRequest(t, s, http.MethodPost, "/x", body, now)
		r.Header.Set(HeaderIdentity, other.Address().String())
		_, err := v.Verify(r, body)
		assert.True(t, errors.Is(err, types.ErrUnauthorized))
	})

	t.Run("stale-timestamp", func(t *testing.T) {
		r := signedRequest(t, s, http.MethodPost, "/x", body, now.Add(-2*time.Minute))
		_, err := v.Verify(r, body)
		assert.True(t, errors.Is(err, types.ErrUnauthorized))
	})

	t.Run("missing-headers", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/x", nil)
		_, err := v.Verify(r, nil)
		assert.True(t, errors.Is(err, types.ErrUnauthorized))
	})

	t.Run("garbage-signature", func(t *testing.T) {
		r := signedRequest(t, s, http.MethodPost, "/x", body, now)
		r.Header.Set(HeaderSignature, "0x1234")
		_, err := v.Verify(r, body)
		assert.True(t, errors.Is(err, types.ErrUnauthorized))
	})
}

func TestHeaderVerifier(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x", nil)
	_, err := HeaderVerifier{}.Verify(r, nil)
	assert.True(t, IsUnauthorized(err))

	r.Header.Set(HeaderIdentity, " 0xABC ")
	id, err := HeaderVerifier{}.Verify(r, nil)
	require.NoError(t, err)
	assert.Equal(t, types.Identity("0xabc"), id)
}

func TestMiddleware(t *testing.T) {
	s := newSigner(t)
	v := NewSignatureVerifier(time.Minute, clock.NewManual(now))

	var gotID types.Identity
	var gotBody []byte
	h := Middleware(v, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = IdentityFrom(r.Context())
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))

	body := []byte(`{"outcome":"YES"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, s, http.MethodPost, "/api/markets/m1/resolve", body, now))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, s.Address(), gotID)
	assert.Equal(t, body, gotBody, "body is restored for the handler")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/m1/resolve", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

func TestMiddleware_RejectsEscrowIdentity(t *testing.T) {
	called := false
	h := Middleware(HeaderVerifier{}, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/markets/m2/stakes", nil)
	r.Header.Set(HeaderIdentity, "escrow:m1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called, "handler must not run as an escrow account")
}

func TestNewSigner_BadKey(t *testing.T) {
	_, err := NewSigner("not-hex")
	assert.Error(t, err)
}
