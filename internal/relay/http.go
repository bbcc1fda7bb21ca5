package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"

	"parley/internal/domain"
	plog "parley/internal/log"
)

// StatusError is a non-2xx relay response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay %s %s: %s", e.Method, e.URL, e.Status)
}

// Temporary reports whether retrying might succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// BackOffOpts bounds the retries of idempotent requests.
type BackOffOpts struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultBackOffOpts is used by NewHTTP.
var DefaultBackOffOpts = BackOffOpts{
	InitialInterval: 250 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsedTime:  10 * time.Second,
}

// HTTPClient talks to a relay over HTTP and websockets.
type HTTPClient struct {
	Base    string
	HTTP    *http.Client
	BackOff BackOffOpts
	Log     *logging.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTP returns a client for the relay at base.
func NewHTTP(base string) *HTTPClient {
	return &HTTPClient{
		Base:    strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		BackOff: DefaultBackOffOpts,
		Log:     plog.Discard().GetLogger("relay-client"),
	}
}

// UseToken sets the bearer token for queue operations.
func (c *HTTPClient) UseToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Register publishes publicKey under username and returns the bearer token.
// Re-registering with the current token replaces the published key.
func (c *HTTPClient) Register(ctx context.Context, username domain.Username, publicKey []byte) (string, error) {
	var out registerResponse
	req := registerRequest{Username: username, PublicKey: publicKey}
	if err := c.post(ctx, "/register", req, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("relay returned an empty token")
	}
	c.UseToken(out.Token)
	return out.Token, nil
}

// LookupPublicKey resolves username to its SubjectPublicKeyInfo bytes. An
// unknown user yields an error matching domain.ErrNotFound.
func (c *HTTPClient) LookupPublicKey(ctx context.Context, username domain.Username) ([]byte, error) {
	var out keyResponse
	err := c.getJSON(ctx, "/keys/"+url.PathEscape(username.String()), &out)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, errors.Wrapf(domain.ErrNotFound, "public key for %s", username)
	}
	if err != nil {
		return nil, err
	}
	return out.PublicKey, nil
}

// SendMessage queues env for env.To.
func (c *HTTPClient) SendMessage(ctx context.Context, env domain.Envelope) error {
	return c.post(ctx, "/msg/"+url.PathEscape(env.To.String()), env, nil)
}

// FetchMessages returns up to limit queued envelopes without removing them.
func (c *HTTPClient) FetchMessages(ctx context.Context, username domain.Username, limit int) ([]domain.Envelope, error) {
	path := "/msg/" + url.PathEscape(username.String())
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var envs []domain.Envelope
	if err := c.getJSON(ctx, path, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// AckMessages drops the first count queued envelopes.
func (c *HTTPClient) AckMessages(ctx context.Context, username domain.Username, count int) error {
	return c.post(ctx, "/msg/"+url.PathEscape(username.String())+"/ack", ackRequest{Count: count}, nil)
}

// Subscribe streams pending-count notifications for username until ctx is
// done, then returns nil.
func (c *HTTPClient) Subscribe(ctx context.Context, username domain.Username, fn func(pending int)) error {
	u, err := url.Parse(c.Base + "/ws/" + url.PathEscape(username.String()))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	hdr := http.Header{}
	c.authorize(hdr)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		if resp != nil {
			return &StatusError{Method: http.MethodGet, URL: u.String(), Code: resp.StatusCode, Status: resp.Status}
		}
		return errors.Wrap(err, "relay subscribe")
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var n notice
		if err := conn.ReadJSON(&n); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "relay subscribe")
		}
		fn(n.Pending)
	}
}

func (c *HTTPClient) authorize(h http.Header) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// getJSON performs an idempotent GET, retrying transport failures and
// temporary statuses with exponential backoff.
func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BackOff.InitialInterval
	b.MaxInterval = c.BackOff.MaxInterval
	b.MaxElapsedTime = c.BackOff.MaxElapsedTime
	b.Reset()

	numTries := 0
	for {
		numTries++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
		if err != nil {
			return err
		}
		err = c.do(req, out)
		if err == nil || !retryable(ctx, err) {
			return err
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			c.Log.Warningf("Giving up on GET %s after %d tries: %v", path, numTries, err)
			return err
		}
		c.Log.Debugf("Retrying GET %s in %v (try %d): %v", path, next, numTries, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next):
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	c.authorize(req.Header)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: req.Method, URL: req.URL.String(), Code: resp.StatusCode, Status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

var _ domain.RelayClient = (*HTTPClient)(nil)
