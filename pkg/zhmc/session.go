package zhmc

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HMC reason code on a 403 response indicating that the session token has
// expired and a new logon is required.
const reasonAPISessionExpired = 5

const (
	defaultTimeout         = 60 * time.Second
	defaultJobTimeout      = 10 * time.Minute
	defaultJobPollInterval = 200 * time.Millisecond
	defaultLogonAttempts   = 3
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// BaseURL of the HMC Web Services API, e.g. "https://hmc.example.com:6794".
	BaseURL  string
	Userid   string
	Password string

	// Timeout bounds each HTTP round trip. Zero means defaultTimeout.
	Timeout time.Duration
	// JobTimeout bounds polling of asynchronous jobs started by POST
	// operations that return 202. Zero means defaultJobTimeout.
	JobTimeout time.Duration
	// JobPollInterval is the delay between job status polls.
	JobPollInterval time.Duration

	// SkipCertVerify disables TLS certificate verification. HMCs commonly
	// run with self-signed certificates.
	SkipCertVerify bool

	// Logger receives structured logs for every operation. If nil, logging
	// is disabled. The session owns its logger; there is no ambient global
	// logger in the library.
	Logger *zerolog.Logger
}

// Session holds the HTTP connection and authentication state for one HMC.
// It is safe for concurrent use.
type Session struct {
	baseURL         string
	userid          string
	password        string
	httpClient      *http.Client
	wsDialer        *websocket.Dialer
	logger          zerolog.Logger
	timeout         time.Duration
	jobTimeout      time.Duration
	jobPollInterval time.Duration

	mu    sync.Mutex
	token string
	topic string
}

// NewSession creates a session for the given HMC. No I/O happens until the
// first request; logon is performed lazily or explicitly via Logon.
func NewSession(opts SessionOptions) *Session {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	pollInterval := opts.JobPollInterval
	if pollInterval <= 0 {
		pollInterval = defaultJobPollInterval
	}
	tlsConfig := &tls.Config{InsecureSkipVerify: opts.SkipCertVerify}
	return &Session{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		userid:   opts.Userid,
		password: opts.Password,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		wsDialer: &websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: timeout,
		},
		logger:          logger,
		timeout:         timeout,
		jobTimeout:      jobTimeout,
		jobPollInterval: pollInterval,
	}
}

// BaseURL returns the HMC endpoint this session talks to.
func (s *Session) BaseURL() string {
	return s.baseURL
}

// Logger returns the session's logger.
func (s *Session) Logger() *zerolog.Logger {
	return &s.logger
}

// Token returns the current session token, or "" when logged off.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// NotificationTopic returns the object-notification topic assigned at
// logon, or "" when logged off.
func (s *Session) NotificationTopic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

// Logon establishes a session with the HMC. Transient connection failures
// are retried with backoff; authentication failures are not.
func (s *Session) Logon(ctx context.Context) error {
	return retry.Do(
		func() error { return s.logonOnce(ctx) },
		retry.Context(ctx),
		retry.Attempts(defaultLogonAttempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// only connection-level failures are worth retrying
			return errors.Is(err, ErrConnection)
		}),
	)
}

func (s *Session) logonOnce(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"userid":   s.userid,
		"password": s.password,
	})
	if err != nil {
		return ErrParse.Err(err)
	}
	resp, err := s.roundTrip(ctx, http.MethodPost, "/api/sessions", body, false)
	if err != nil {
		return err
	}
	parsed := gjson.ParseBytes(resp)
	token := parsed.Get("api-session").String()
	if token == "" {
		return ErrAuth.Msg("logon response carries no session token")
	}
	s.mu.Lock()
	s.token = token
	s.topic = parsed.Get("notification-topic").String()
	s.mu.Unlock()
	s.logger.Debug().Str("op", "logon").Str("userid", s.userid).Msg("session established")
	return nil
}

// Logoff deletes the session on the HMC and clears the local token.
func (s *Session) Logoff(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return nil
	}
	_, err := s.do(ctx, http.MethodDelete, "/api/sessions/this-session", nil)
	s.mu.Lock()
	s.token = ""
	s.topic = ""
	s.mu.Unlock()
	return err
}

// Get performs a GET and returns the response body.
func (s *Session) Get(ctx context.Context, uri string) ([]byte, error) {
	return s.do(ctx, http.MethodGet, uri, nil)
}

// Post performs a POST. A nil body sends an empty request. A 202 response
// carries a job URI that is polled until the job completes or the job
// timeout elapses; the returned body is then the job's result.
func (s *Session) Post(ctx context.Context, uri string, body any) ([]byte, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, ErrParse.Err(err)
		}
	}
	return s.do(ctx, http.MethodPost, uri, data)
}

// Delete performs a DELETE.
func (s *Session) Delete(ctx context.Context, uri string) error {
	_, err := s.do(ctx, http.MethodDelete, uri, nil)
	return err
}

// do performs one request with transparent re-logon: a 403 with the
// session-expired reason code triggers exactly one logon-and-retry.
func (s *Session) do(ctx context.Context, method, uri string, body []byte) ([]byte, error) {
	if s.Token() == "" {
		if err := s.Logon(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := s.roundTrip(ctx, method, uri, body, true)
	if err != nil && isSessionExpired(err) {
		s.logger.Debug().Str("uri", uri).Msg("session token expired, re-logging on")
		if err := s.Logon(ctx); err != nil {
			return nil, err
		}
		resp, err = s.roundTrip(ctx, method, uri, body, true)
	}
	return resp, err
}

func isSessionExpired(err error) bool {
	he, ok := asAppError(err)
	return ok && he.StatusCode() == http.StatusForbidden &&
		he.ReasonCode() == reasonAPISessionExpired
}

// roundTrip performs one HTTP exchange and maps the response to the error
// taxonomy. 202 responses are resolved through the job poller.
func (s *Session) roundTrip(ctx context.Context, method, uri string, body []byte, withToken bool) ([]byte, error) {
	reqID, _ := gonanoid.New(8)
	fullURL := s.baseURL + uri
	if _, err := url.Parse(fullURL); err != nil {
		return nil, ErrConnection.MsgErr("invalid request URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, ErrConnection.Err(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if withToken {
		req.Header.Set("X-API-Session", s.Token())
	}

	if e := s.logger.Debug(); e.Enabled() {
		logged := body
		if len(logged) > 0 {
			// never log credentials
			logged, _ = sjson.SetBytes(logged, "password", "********")
		}
		e.Str("req_id", reqID).Str("method", method).Str("uri", uri).
			RawJSON("body", orEmptyJSON(logged)).Msg("HMC request")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrOperationTimeout.Err(ctx.Err())
		}
		return nil, ErrConnection.Err(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrConnection.Err(err)
	}

	s.logger.Debug().Str("req_id", reqID).Int("status", resp.StatusCode).Msg("HMC response")

	switch {
	case resp.StatusCode == http.StatusAccepted:
		jobURI := gjson.GetBytes(respBody, "job-uri").String()
		if jobURI == "" {
			return nil, ErrParse.Msg("202 response carries no job-uri")
		}
		return s.pollJob(ctx, jobURI)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	default:
		return nil, errorFromResponse(resp.StatusCode, respBody)
	}
}

// errorFromResponse maps an HMC error response body to the taxonomy.
func errorFromResponse(status int, body []byte) error {
	parsed := gjson.ParseBytes(body)
	reason := -1
	if r := parsed.Get("reason"); r.Exists() {
		reason = int(r.Int())
	}
	msg := parsed.Get("message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	switch status {
	case http.StatusForbidden, http.StatusUnauthorized:
		return ErrAuth.Msg(msg).SetStatusCode(status).SetReasonCode(reason)
	case http.StatusNotFound:
		return ErrNotFound.Msg(msg).SetStatusCode(status).SetReasonCode(reason)
	default:
		return httpError(status, reason, msg)
	}
}

func orEmptyJSON(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
