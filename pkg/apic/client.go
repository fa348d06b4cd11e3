package apic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/faultbridge/pkg/log"
	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/cuemby/faultbridge/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	loginPath               = "/api/aaaLogin.json"
	refreshPath             = "/api/aaaRefresh.json"
	subscriptionRefreshPath = "/api/subscriptionRefresh.json"

	// CookieName carries the session token on every call
	CookieName = "APIC-cookie"

	maxBodySize = 256 << 20
)

// Config tunes a Client. The zero value is usable.
type Config struct {
	// TLSConfig is used for both HTTPS calls and the websocket stream
	TLSConfig *tls.Config

	// Timeout bounds each HTTP request (default 30s)
	Timeout time.Duration

	// Limiter throttles every request to the controller when set
	Limiter *rate.Limiter

	// RefreshMinInterval skips the pre-query token refresh when the
	// current token is younger than this. Zero refreshes before every query.
	RefreshMinInterval time.Duration

	// Now overrides the clock for pagination
	Now func() time.Time
}

// Session is one authenticated binding to a controller endpoint. A new
// Session replaces the old one on every login or refresh.
type Session struct {
	Host    string
	Port    int
	User    string
	Token   string
	Created time.Time
}

// Address returns host:port of the session endpoint
func (s *Session) Address() string {
	return types.Endpoint{Host: s.Host, Port: s.Port}.Address()
}

func (s *Session) url(path string) string {
	return "https://" + s.Address() + path
}

// Client executes queries against one controller cluster
type Client struct {
	cluster    string
	endpoints  []types.Endpoint
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger

	session   atomic.Pointer[Session]
	refreshMu sync.Mutex
}

// New creates an unconnected client for a cluster
func New(cluster string, endpoints []types.Endpoint, cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSConfig != nil {
		transport.TLSClientConfig = cfg.TLSConfig
	}

	return &Client{
		cluster:   cluster,
		endpoints: endpoints,
		cfg:       cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger: log.WithCluster("apic", cluster),
	}
}

// Dial creates a client and logs into the first endpoint that accepts
func Dial(ctx context.Context, cluster string, endpoints []types.Endpoint, cfg Config) (*Client, error) {
	c := New(cluster, endpoints, cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Cluster returns the cluster name
func (c *Client) Cluster() string {
	return c.cluster
}

// Host returns the host of the current session, or "" before login
func (c *Client) Host() string {
	if s := c.session.Load(); s != nil {
		return s.Host
	}
	return ""
}

// Session returns the current session or nil
func (c *Client) Session() *Session {
	return c.session.Load()
}

// Connect tries each endpoint in order and keeps the first successful
// login. When every endpoint fails it returns an AuthenticationError.
func (c *Client) Connect(ctx context.Context) error {
	if len(c.endpoints) == 0 {
		return &AuthenticationError{Cluster: c.cluster, Err: errors.New("no endpoints configured")}
	}

	var errs []error
	for _, ep := range c.endpoints {
		sess, err := c.login(ctx, ep)
		if err != nil {
			metrics.LoginsTotal.WithLabelValues(c.cluster, "failure").Inc()
			c.logger.Warn().Err(err).Str("endpoint", ep.Address()).Msg("Controller login failed")
			errs = append(errs, fmt.Errorf("%s: %w", ep.Address(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		metrics.LoginsTotal.WithLabelValues(c.cluster, "success").Inc()
		c.session.Store(sess)
		c.logger.Info().Str("endpoint", sess.Address()).Msg("Controller session established")
		return nil
	}

	return &AuthenticationError{Cluster: c.cluster, Err: errors.Join(errs...)}
}

type loginBody struct {
	AaaUser struct {
		Attributes struct {
			Name string `json:"name"`
			Pwd  string `json:"pwd"`
		} `json:"attributes"`
	} `json:"aaaUser"`
}

func (c *Client) login(ctx context.Context, ep types.Endpoint) (*Session, error) {
	var body loginBody
	body.AaaUser.Attributes.Name = ep.User
	body.AaaUser.Attributes.Pwd = ep.Password
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	sess := &Session{Host: ep.Host, Port: ep.Port, User: ep.User}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.url(loginPath), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(ep.User, ep.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, loginPath)
	if err != nil {
		return nil, err
	}

	token, err := tokenFrom(loginPath, resp)
	if err != nil {
		return nil, err
	}
	sess.Token = token
	sess.Created = time.Now()
	return sess, nil
}

func tokenFrom(path string, resp *Response) (string, error) {
	attrs := resp.First("aaaLogin")
	if attrs == nil || attrs["token"] == "" {
		return "", &MalformedResponseError{Path: path, Reason: "response carries no token"}
	}
	return attrs["token"], nil
}

// RefreshSession re-issues the auth token and swaps in a new Session
func (c *Client) RefreshSession(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	cur := c.session.Load()
	if cur == nil {
		return ErrNotConnected
	}

	resp, err := c.get(ctx, cur, refreshPath)
	if err != nil {
		var ae *AuthenticationError
		if errors.As(err, &ae) {
			return err
		}
		return fmt.Errorf("failed to refresh session: %w", err)
	}

	token, err := tokenFrom(refreshPath, resp)
	if err != nil {
		return err
	}

	next := *cur
	next.Token = token
	next.Created = time.Now()
	c.session.Store(&next)
	c.logger.Debug().Msg("Session token refreshed")
	return nil
}

// RefreshSubscription renews the lease of a subscription id
func (c *Client) RefreshSubscription(ctx context.Context, id string) error {
	path := subscriptionRefreshPath + "?" + url.Values{"id": {id}}.Encode()
	if _, err := c.QueryNoAuth(ctx, path); err != nil {
		return fmt.Errorf("failed to refresh subscription %s: %w", id, err)
	}
	return nil
}

// Query refreshes the session token, then runs the query
func (c *Client) Query(ctx context.Context, path string) (*Response, error) {
	if c.needsRefresh() {
		if err := c.RefreshSession(ctx); err != nil {
			return nil, err
		}
	}
	return c.QueryNoAuth(ctx, path)
}

// QueryNoAuth runs the query with the current token
func (c *Client) QueryNoAuth(ctx context.Context, path string) (*Response, error) {
	sess := c.session.Load()
	if sess == nil {
		return nil, ErrNotConnected
	}

	timer := metrics.NewTimer()
	resp, err := c.get(ctx, sess, apiPath(path))
	timer.ObserveDurationVec(metrics.QueryDuration, c.cluster)

	outcome := "ok"
	switch {
	case err == nil:
	case IsRetryable(err):
		outcome = "network_error"
	case IsAuthentication(err):
		outcome = "auth_error"
	default:
		outcome = "malformed"
		c.logger.Warn().Err(err).Str("path", path).Msg("Controller returned an unusable response")
	}
	metrics.QueriesTotal.WithLabelValues(c.cluster, outcome).Inc()

	return resp, err
}

// Subscribe registers a subscription for class records created after since
// and returns the subscription id
func (c *Client) Subscribe(ctx context.Context, class string, since time.Time) (string, error) {
	q := url.Values{
		"query-target-filter": {createdAfter(class, since)},
		"subscription":        {"yes"},
	}
	resp, err := c.QueryNoAuth(ctx, classPath(class)+"?"+q.Encode())
	if err != nil {
		return "", err
	}
	if resp.SubscriptionID == "" {
		return "", &MalformedResponseError{Path: classPath(class), Reason: "no subscriptionId in response"}
	}
	return resp.SubscriptionID, nil
}

func (c *Client) needsRefresh() bool {
	if c.cfg.RefreshMinInterval <= 0 {
		return true
	}
	sess := c.session.Load()
	return sess == nil || time.Since(sess.Created) >= c.cfg.RefreshMinInterval
}

func (c *Client) get(ctx context.Context, sess *Session, path string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sess.url(path), nil)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sess.Token})
	return c.do(req, path)
}

// do executes req and maps the outcome onto the error taxonomy
func (c *Client) do(req *http.Request, path string) (*Response, error) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(req.Context()); err != nil {
			return nil, &NetworkError{Op: "rate limit " + path, Err: err}
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: req.Method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{Op: "read " + path, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, text := errorFromBody(body)
		return nil, &AuthenticationError{Cluster: c.cluster, Err: fmt.Errorf("HTTP %d %s", resp.StatusCode, text)}
	case resp.StatusCode >= 500:
		return nil, &NetworkError{Op: req.Method + " " + path, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		code, text := errorFromBody(body)
		return nil, &MalformedResponseError{Path: path, Status: resp.StatusCode, Code: code, Reason: text}
	}

	return ParseResponse(path, body)
}

func apiPath(path string) string {
	if strings.HasPrefix(path, "/api/") {
		return path
	}
	return "/api/" + strings.TrimPrefix(path, "/")
}

func classPath(class string) string {
	return "/api/node/class/" + class + ".json"
}
