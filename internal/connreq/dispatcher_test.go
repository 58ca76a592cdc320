package connreq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evoacs/acs-server/internal/models"
)

func testDevice(url string) *models.Device {
	return &models.Device{
		SerialNumber:         "SN0001",
		OUI:                  "00D09E",
		ConnectionRequestURL: url,
	}
}

func TestSendConnectionRequestNoAuth(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(2 * time.Second)
	result := d.SendConnectionRequest(context.Background(), testDevice(srv.URL))

	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, http.MethodGet, method)
}

func TestSendConnectionRequestMissingURL(t *testing.T) {
	d := NewDispatcher(2 * time.Second)
	result := d.SendConnectionRequest(context.Background(), testDevice(""))

	assert.False(t, result.Success)
	assert.Equal(t, CodeMissingURL, result.ErrorCode)
	assert.True(t, result.ErrorCode.Reachability())
}

func TestSendConnectionRequestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewDispatcher(2 * time.Second)
	result := d.SendConnectionRequest(context.Background(), testDevice(url))

	assert.False(t, result.Success)
	assert.Equal(t, CodeConnectionError, result.ErrorCode)
	assert.True(t, result.ErrorCode.Reachability())
}

func TestSendConnectionRequestForbiddenWithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDispatcher(2 * time.Second)
	result := d.SendConnectionRequest(context.Background(), testDevice(srv.URL))

	// A reachable device that refuses is a configuration problem, not
	// a NAT problem.
	assert.False(t, result.Success)
	assert.Equal(t, CodeHTTPError, result.ErrorCode)
	assert.Equal(t, http.StatusForbidden, result.HTTPStatus)
	assert.False(t, result.ErrorCode.Reachability())
}

func TestDigestAuthentication(t *testing.T) {
	const (
		username = "acs"
		password = "secret"
		realm    = "cpe@example.com"
		nonce    = "dcd98b7102dd2f0e8b11d0f600bfb0c093"
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			w.Header().Set("WWW-Authenticate",
				`Digest realm="`+realm+`", nonce="`+nonce+`", qop="auth", opaque="abc123"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		params, err := parseDigestChallenge(header)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		ha1 := md5Hex(username + ":" + realm + ":" + password)
		ha2 := md5Hex(r.Method + ":" + params["uri"])
		expected := md5Hex(ha1 + ":" + nonce + ":" + params["nc"] + ":" + params["cnonce"] + ":auth:" + ha2)

		if params["response"] != expected || params["opaque"] != "abc123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	device := testDevice(srv.URL)
	device.ConnectionRequestUsername = username
	device.ConnectionRequestPassword = password
	device.AuthMethod = models.AuthMethodDigest

	d := NewDispatcher(2 * time.Second)
	result := d.SendConnectionRequest(context.Background(), device)

	require.True(t, result.Success, "message: %s", result.Message)
	assert.Equal(t, models.AuthMethodDigest, result.AuthMethod)
}

func TestBasicFallbackWhenDigestRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "acs" || pass != "secret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="cpe"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	device := testDevice(srv.URL)
	device.ConnectionRequestUsername = "acs"
	device.ConnectionRequestPassword = "secret"
	device.AuthMethod = models.AuthMethodDigest

	d := NewDispatcher(2 * time.Second)
	result := d.SendConnectionRequest(context.Background(), device)

	require.True(t, result.Success, "message: %s", result.Message)
	assert.Equal(t, models.AuthMethodBasic, result.AuthMethod)
}

func TestAuthFailureIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Basic realm="cpe"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	device := testDevice(srv.URL)
	device.ConnectionRequestUsername = "acs"
	device.ConnectionRequestPassword = "wrong"
	device.AuthMethod = models.AuthMethodBasic

	d := NewDispatcher(2 * time.Second)
	result := d.SendConnectionRequest(context.Background(), device)

	assert.False(t, result.Success)
	assert.Equal(t, CodeAuthFailed, result.ErrorCode)
	assert.Contains(t, result.Message, "rejected credentials")
	assert.False(t, result.ErrorCode.Reachability())
}

func TestRedirectIsNotFollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://192.0.2.1/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	d := NewDispatcher(2 * time.Second)
	result := d.SendConnectionRequest(context.Background(), testDevice(srv.URL))

	assert.False(t, result.Success)
	assert.Equal(t, http.StatusFound, result.HTTPStatus)
}

func TestTestConnectionRequestFallsBackToPOST(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	d := NewDispatcher(2 * time.Second)
	device := testDevice(srv.URL)

	// The plain send reports the GET failure.
	sent := d.SendConnectionRequest(context.Background(), device)
	assert.False(t, sent.Success)

	// The diagnostic probe retries with POST and succeeds.
	tested := d.TestConnectionRequest(context.Background(), device)
	assert.True(t, tested.Success)
	assert.Equal(t, http.StatusOK, tested.HTTPStatus)
}

func TestTestConnectionRequestKeepsGETResultWhenPOSTFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDispatcher(2 * time.Second)
	result := d.TestConnectionRequest(context.Background(), testDevice(srv.URL))

	assert.False(t, result.Success)
	assert.Equal(t, http.StatusForbidden, result.HTTPStatus)
}

func TestDigestAuthorizationWithoutQop(t *testing.T) {
	challenge := `Digest realm="cpe", nonce="abc"`
	header, err := digestAuthorization(challenge, http.MethodGet, "/cr", "acs", "secret")
	require.NoError(t, err)

	ha1 := md5Hex("acs:cpe:secret")
	ha2 := md5Hex("GET:/cr")
	expected := md5Hex(ha1 + ":abc:" + ha2)

	assert.Contains(t, header, `response="`+expected+`"`)
	assert.NotContains(t, header, "qop")
}

func TestDigestAuthorizationRejectsUnknownAlgorithm(t *testing.T) {
	challenge := `Digest realm="cpe", nonce="abc", algorithm=SHA-256`
	_, err := digestAuthorization(challenge, http.MethodGet, "/cr", "acs", "secret")
	assert.Error(t, err)
}
