package connreq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/evoacs/acs-server/internal/models"
)

// DefaultTimeout bounds a single connection-request HTTP attempt
const DefaultTimeout = 10 * time.Second

// ErrorCode classifies connection-request failures. The pending-command
// queue's NAT-fallback decision depends on this taxonomy.
type ErrorCode string

const (
	CodeMissingURL      ErrorCode = "MISSING_URL"
	CodeAuthFailed      ErrorCode = "AUTH_FAILED"
	CodeHTTPError       ErrorCode = "HTTP_ERROR"
	CodeConnectionError ErrorCode = "CONNECTION_ERROR"
	CodeUnexpectedError ErrorCode = "UNEXPECTED_ERROR"
)

// Reachability reports whether the failure means the device cannot be
// reached right now (likely NAT or firewall), as opposed to a
// configuration problem that queuing would not fix.
func (c ErrorCode) Reachability() bool {
	switch c {
	case CodeConnectionError, CodeMissingURL:
		return true
	case CodeAuthFailed, CodeHTTPError, CodeUnexpectedError:
		return false
	}
	return false
}

// Result is the outcome of one connection-request attempt
type Result struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
	ErrorCode  ErrorCode         `json:"errorCode,omitempty"`
	HTTPStatus int               `json:"httpStatus,omitempty"`
	AuthMethod models.AuthMethod `json:"authMethodUsed,omitempty"`
}

// Dispatcher wakes devices by calling their connection-request endpoint.
// It holds no shared state; calls are blocking I/O with a bounded
// timeout and may run concurrently.
type Dispatcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewDispatcher creates a dispatcher with the given per-attempt timeout
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		client: &http.Client{
			Timeout: timeout,
			// The CPE answers the connection request itself; a redirect
			// points away from the device and must not be followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

// IsSupported reports whether the device can be woken directly
func (d *Dispatcher) IsSupported(device *models.Device) bool {
	return device.ConnectionRequestURL != ""
}

// SendConnectionRequest asks a device to initiate an Inform immediately
func (d *Dispatcher) SendConnectionRequest(ctx context.Context, device *models.Device) *Result {
	result := d.request(ctx, device, http.MethodGet)

	log.Debug().
		Str("device_id", device.ID.String()).
		Bool("success", result.Success).
		Str("error_code", string(result.ErrorCode)).
		Int("http_status", result.HTTPStatus).
		Msg("connection request finished")

	return result
}

// TestConnectionRequest probes a device's connection-request endpoint.
// Some devices only accept POST, so an HTTP-level failure triggers one
// best-effort POST retry; a failed POST never replaces the GET result.
func (d *Dispatcher) TestConnectionRequest(ctx context.Context, device *models.Device) *Result {
	result := d.request(ctx, device, http.MethodGet)
	if result.Success || result.ErrorCode != CodeHTTPError {
		return result
	}

	postResult := d.request(ctx, device, http.MethodPost)
	if postResult.Success {
		return postResult
	}

	log.Debug().
		Str("device_id", device.ID.String()).
		Str("post_error", string(postResult.ErrorCode)).
		Msg("POST fallback failed, keeping GET result")

	return result
}

// request runs one connection request with auth-method negotiation
func (d *Dispatcher) request(ctx context.Context, device *models.Device, httpMethod string) *Result {
	if device.ConnectionRequestURL == "" {
		return &Result{
			Success:   false,
			Message:   "device has no connection request URL configured",
			ErrorCode: CodeMissingURL,
		}
	}

	if device.ConnectionRequestUsername == "" {
		return d.attempt(ctx, device, httpMethod, "")
	}

	declared := device.AuthMethod
	if declared == "" {
		declared = models.AuthMethodDigest
	}

	result := d.attempt(ctx, device, httpMethod, declared)
	if result.HTTPStatus == http.StatusUnauthorized {
		// Some devices negotiate differently than declared; try the
		// other scheme once before giving up.
		fallback := declared.Other()
		retried := d.attempt(ctx, device, httpMethod, fallback)
		if retried.Success {
			return retried
		}
		result = retried
	}

	if !result.Success && result.ErrorCode == CodeHTTPError {
		result.ErrorCode = CodeAuthFailed
		result.Message = fmt.Sprintf("device rejected credentials (HTTP %d)", result.HTTPStatus)
	}

	return result
}

// attempt runs a single HTTP exchange against the device
func (d *Dispatcher) attempt(ctx context.Context, device *models.Device, httpMethod string, auth models.AuthMethod) *Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, httpMethod, device.ConnectionRequestURL, nil)
	if err != nil {
		return &Result{
			Success:   false,
			Message:   fmt.Sprintf("invalid connection request URL: %v", err),
			ErrorCode: CodeUnexpectedError,
		}
	}

	switch auth {
	case models.AuthMethodBasic:
		req.SetBasicAuth(device.ConnectionRequestUsername, device.ConnectionRequestPassword)
	case models.AuthMethodDigest:
		return d.digestAttempt(ctx, device, httpMethod)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	return resultFromStatus(resp.StatusCode, auth)
}

// digestAttempt performs the challenge/response exchange for digest auth
func (d *Dispatcher) digestAttempt(ctx context.Context, device *models.Device, httpMethod string) *Result {
	req, err := http.NewRequestWithContext(ctx, httpMethod, device.ConnectionRequestURL, nil)
	if err != nil {
		return &Result{
			Success:   false,
			Message:   fmt.Sprintf("invalid connection request URL: %v", err),
			ErrorCode: CodeUnexpectedError,
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		return resultFromStatus(resp.StatusCode, models.AuthMethodDigest)
	}

	challenge := resp.Header.Get("WWW-Authenticate")
	header, err := digestAuthorization(challenge, httpMethod, req.URL.RequestURI(),
		device.ConnectionRequestUsername, device.ConnectionRequestPassword)
	if err != nil {
		return &Result{
			Success:    false,
			Message:    fmt.Sprintf("digest challenge rejected: %v", err),
			ErrorCode:  CodeHTTPError,
			HTTPStatus: http.StatusUnauthorized,
		}
	}

	authed, err := http.NewRequestWithContext(ctx, httpMethod, device.ConnectionRequestURL, nil)
	if err != nil {
		return &Result{
			Success:   false,
			Message:   fmt.Sprintf("invalid connection request URL: %v", err),
			ErrorCode: CodeUnexpectedError,
		}
	}
	authed.Header.Set("Authorization", header)

	resp, err = d.client.Do(authed)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	return resultFromStatus(resp.StatusCode, models.AuthMethodDigest)
}

func resultFromStatus(status int, auth models.AuthMethod) *Result {
	if status >= 200 && status < 300 {
		return &Result{
			Success:    true,
			Message:    "device accepted connection request",
			HTTPStatus: status,
			AuthMethod: auth,
		}
	}

	return &Result{
		Success:    false,
		Message:    fmt.Sprintf("device returned HTTP %d", status),
		ErrorCode:  CodeHTTPError,
		HTTPStatus: status,
		AuthMethod: auth,
	}
}

// classifyTransportError separates network-level failures (NAT, offline,
// DNS) from everything else.
func classifyTransportError(err error) *Result {
	code := CodeUnexpectedError

	var opErr *net.OpError
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		code = CodeConnectionError
	case errors.As(err, &netErr) && netErr.Timeout():
		code = CodeConnectionError
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeConnectionError
	}

	return &Result{
		Success:   false,
		Message:   fmt.Sprintf("connection request failed: %v", err),
		ErrorCode: code,
	}
}
