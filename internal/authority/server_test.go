package authority

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidenceledger/jwcert/internal/assertion"
	"github.com/evidenceledger/jwcert/internal/cert"
	"github.com/evidenceledger/jwcert/internal/certconfig"
	"github.com/evidenceledger/jwcert/internal/database"
	"github.com/evidenceledger/jwcert/internal/models"
	"github.com/evidenceledger/jwcert/internal/pubkey"
)

const (
	testIssuer   = "ca.example.com"
	testPassword = "s3cret"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db := database.New(database.MemoryPath)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Close() })

	key, err := pubkey.Generate(pubkey.AlgEC)
	require.NoError(t, err)

	s, err := New(db, key, nil, testPassword, certconfig.Config{Issuer: testIssuer})
	require.NoError(t, err)
	s.now = func() time.Time { return testNow }
	return s
}

func (s *Server) do(t *testing.T, method, path string, body any, admin bool) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.SetBasicAuth("admin", testPassword)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func simpleObject(t *testing.T, k pubkey.PublicKey) pubkey.SimpleObject {
	t.Helper()
	obj, err := k.ToSimpleObject()
	require.NoError(t, err)
	return obj
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, "GET", "/health", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, testIssuer, body["issuer"])
}

func TestPublishedKeys(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, "GET", "/.well-known/browserid", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[struct {
		Issuer    string              `json:"issuer"`
		PublicKey pubkey.SimpleObject `json:"public-key"`
	}](t, resp)
	assert.Equal(t, testIssuer, doc.Issuer)
	published, err := pubkey.FromSimpleObject(doc.PublicKey)
	require.NoError(t, err)
	assert.True(t, published.Equal(s.key.Public()))

	resp = s.do(t, "GET", "/.well-known/jwks.json", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	set := decode[struct {
		Keys []map[string]any `json:"keys"`
	}](t, resp)
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "EC", set.Keys[0]["kty"])
	assert.NotEmpty(t, set.Keys[0]["kid"])
}

func TestIssueAndVerify(t *testing.T) {
	s := newTestServer(t)
	leaf, err := pubkey.Generate(pubkey.AlgEC)
	require.NoError(t, err)

	resp := s.do(t, "POST", "/admin/certs", models.IssueRequest{
		PublicKey: simpleObject(t, leaf.Public()),
		Principal: cert.Email("alice@example.com"),
		ValidFor:  3600,
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	issued := decode[models.IssueResponse](t, resp)
	assert.NotEmpty(t, issued.ID)
	assert.True(t, issued.ExpiresAt.Equal(testNow.Add(time.Hour)))

	c, err := cert.Parse(issued.Certificate)
	require.NoError(t, err)
	assert.Equal(t, testIssuer, c.Issuer())
	assert.True(t, c.Verify(s.key.Public()))

	t.Run("chain", func(t *testing.T) {
		resp := s.do(t, "POST", "/certs/verify", models.VerifyRequest{
			Certificates: []string{issued.Certificate},
		}, false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[models.VerifyResponse](t, resp)
		assert.Equal(t, cert.Email("alice@example.com"), got.Principal)
		k, err := pubkey.FromSimpleObject(got.PublicKey)
		require.NoError(t, err)
		assert.True(t, k.Equal(leaf.Public()))
	})

	t.Run("chain after expiry", func(t *testing.T) {
		resp := s.do(t, "POST", "/certs/verify", models.VerifyRequest{
			Certificates: []string{issued.Certificate},
			At:           testNow.Add(2 * time.Hour).UnixMilli(),
		}, false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "expired_certificate", decode[models.ErrorResponse](t, resp).Error)
	})

	t.Run("assertion", func(t *testing.T) {
		a, err := assertion.Sign(leaf, "https://rp.example.org", testNow.Add(time.Minute))
		require.NoError(t, err)

		resp := s.do(t, "POST", "/assertions/verify", models.AssertionRequest{
			Assertion: assertion.Bundle([]string{issued.Certificate}, a),
			Audience:  "https://rp.example.org",
		}, false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[models.AssertionResponse](t, resp)
		assert.Equal(t, "okay", got.Status)
		assert.Equal(t, "alice@example.com", got.Email)
		assert.Equal(t, testIssuer, got.Issuer)

		resp = s.do(t, "POST", "/assertions/verify", models.AssertionRequest{
			Assertion: assertion.Bundle([]string{issued.Certificate}, a),
			Audience:  "https://other.example.org",
		}, false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "audience_mismatch", decode[models.ErrorResponse](t, resp).Error)
	})

	t.Run("log", func(t *testing.T) {
		resp := s.do(t, "GET", "/admin/certs/"+issued.ID, nil, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[models.IssuedCertificate](t, resp)
		assert.Equal(t, issued.Certificate, got.Token)

		resp = s.do(t, "GET", "/admin/certs", nil, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode[[]models.IssuedCertificate](t, resp), 1)

		resp = s.do(t, "GET", "/admin/certs/unknown", nil, true)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestIssue_Rejects(t *testing.T) {
	s := newTestServer(t)
	leaf, err := pubkey.Generate(pubkey.AlgEC)
	require.NoError(t, err)
	obj := simpleObject(t, leaf.Public())

	tests := []struct {
		name     string
		req      models.IssueRequest
		wantKind string
	}{
		{"bad key", models.IssueRequest{PublicKey: pubkey.SimpleObject{Alg: "ES", Value: "x"}, Principal: cert.Email("a@b.c")}, "invalid_key"},
		{"no principal", models.IssueRequest{PublicKey: obj}, "invalid_principal"},
		{"too long", models.IssueRequest{PublicKey: obj, Principal: cert.Email("a@b.c"), ValidFor: int64((365 * 24 * time.Hour).Seconds())}, "invalid_validity"},
		{"overflowing validity", models.IssueRequest{PublicKey: obj, Principal: cert.Email("a@b.c"), ValidFor: 18446744074}, "invalid_validity"},
		{"huge validity", models.IssueRequest{PublicKey: obj, Principal: cert.Email("a@b.c"), ValidFor: 1 << 62}, "invalid_validity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, "POST", "/admin/certs", tt.req, true)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.wantKind, decode[models.ErrorResponse](t, resp).Error)
		})
	}

	resp := s.do(t, "POST", "/admin/certs", models.IssueRequest{PublicKey: obj, Principal: cert.Email("a@b.c")}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestVerifyChain_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		certs      []string
		wantStatus int
		wantKind   string
	}{
		{"empty", nil, http.StatusBadRequest, "empty_chain"},
		{"garbage", []string{"not-a-cert"}, http.StatusBadRequest, "parse_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, "POST", "/certs/verify", models.VerifyRequest{Certificates: tt.certs}, false)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantKind, decode[models.ErrorResponse](t, resp).Error)
		})
	}
}

func TestTrustedRoots(t *testing.T) {
	s := newTestServer(t)

	partner, err := pubkey.Generate(pubkey.AlgRSA)
	require.NoError(t, err)
	leaf, err := pubkey.Generate(pubkey.AlgEC)
	require.NoError(t, err)

	c, err := cert.New("partner.org", testNow, testNow.Add(time.Hour), leaf.Public(), cert.Email("bob@partner.org"))
	require.NoError(t, err)
	token, err := c.Sign(partner)
	require.NoError(t, err)

	verify := func() *http.Response {
		return s.do(t, "POST", "/certs/verify", models.VerifyRequest{Certificates: []string{token}}, false)
	}

	resp := verify()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "no_root_key", decode[models.ErrorResponse](t, resp).Error)

	body := map[string]any{"public-key": simpleObject(t, partner.Public())}
	resp = s.do(t, "PUT", "/admin/roots/partner.org", body, true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, http.StatusOK, verify().StatusCode)

	resp = s.do(t, "GET", "/admin/roots", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	roots := decode[[]models.TrustedRoot](t, resp)
	require.Len(t, roots, 1)
	assert.Equal(t, "partner.org", roots[0].Issuer)

	resp = s.do(t, "PUT", "/admin/roots/"+testIssuer, body, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, "DELETE", "/admin/roots/partner.org", nil, true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, verify().StatusCode)

	resp = s.do(t, "DELETE", "/admin/roots/partner.org", nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVerify_EarlierReferenceTimeIgnored(t *testing.T) {
	s := newTestServer(t)
	leaf, err := pubkey.Generate(pubkey.AlgEC)
	require.NoError(t, err)

	resp := s.do(t, "POST", "/admin/certs", models.IssueRequest{
		PublicKey: simpleObject(t, leaf.Public()),
		Principal: cert.Email("alice@example.com"),
		ValidFor:  3600,
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	issued := decode[models.IssueResponse](t, resp)

	a, err := assertion.Sign(leaf, "https://rp.example.org", testNow.Add(time.Minute))
	require.NoError(t, err)

	// Both the certificate and the assertion have expired by now.
	s.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	at := testNow.UnixMilli()

	resp = s.do(t, "POST", "/certs/verify", models.VerifyRequest{
		Certificates: []string{issued.Certificate},
		At:           at,
	}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "expired_certificate", decode[models.ErrorResponse](t, resp).Error)

	resp = s.do(t, "POST", "/assertions/verify", models.AssertionRequest{
		Assertion: assertion.Bundle([]string{issued.Certificate}, a),
		Audience:  "https://rp.example.org",
		At:        at,
	}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "expired_certificate", decode[models.ErrorResponse](t, resp).Error)
}

func TestReferenceTime(t *testing.T) {
	s := &Server{now: func() time.Time { return testNow }}

	assert.True(t, s.referenceTime(0).Equal(testNow))
	assert.True(t, s.referenceTime(testNow.Add(-time.Hour).UnixMilli()).Equal(testNow))
	later := testNow.Add(time.Hour)
	assert.True(t, s.referenceTime(later.UnixMilli()).Equal(later))
}
