package dspace

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const sessionCookie = "JSESSIONID"

// Options configures a Client. Zero values fall back to the defaults below.
type Options struct {
	BaseURL        string
	Email          string
	Password       string
	VerifySSL      bool
	RetryMax       int
	RetryWait      time.Duration
	PolicyDelay    time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

// Client talks to the DSpace 6 REST API using a session cookie.
type Client struct {
	baseURL  string
	email    string
	password string
	maxBody  int64
	http     *retryablehttp.Client
	policies *rate.Limiter
	log      *slog.Logger

	mu      sync.RWMutex
	session string
}

func NewClient(opts Options) *Client {
	if opts.RetryWait <= 0 {
		opts.RetryWait = 5 * time.Second
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.PolicyDelay <= 0 {
		opts.PolicyDelay = 125 * time.Millisecond
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := cleanhttp.DefaultPooledTransport()
	if !opts.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator toggle
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: opts.RequestTimeout}
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWait
	rc.RetryWaitMax = opts.RetryWait
	rc.Backoff = fixedBackoff
	rc.CheckRetry = retryPolicy
	rc.RequestLogHook = countAttempts
	rc.Logger = logger

	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		email:    opts.Email,
		password: opts.Password,
		maxBody:  opts.MaxBodyBytes,
		http:     rc,
		policies: rate.NewLimiter(rate.Every(opts.PolicyDelay), 1),
		log:      logger,
	}
}

// Login opens a session and checks it with /rest/status.
func (c *Client) Login(ctx context.Context) (Status, error) {
	// Credentials go in the body; the request URL is logged at debug level.
	form := url.Values{}
	form.Set("email", c.email)
	form.Set("password", c.password)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/login", []byte(form.Encode()))
	if err != nil {
		return Status{}, &AuthError{Reason: "build login request", Err: err}
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	req.Header.Set("accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, &AuthError{Reason: "login request", Err: err}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{}, &AuthError{Reason: fmt.Sprintf("login rejected with status %d", resp.StatusCode)}
	}
	var session string
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie {
			session = ck.Value
		}
	}
	if session == "" {
		return Status{}, &AuthError{Reason: "login returned no session cookie"}
	}
	c.setSession(session)

	st, err := c.Status(ctx)
	if err != nil {
		c.setSession("")
		return Status{}, &AuthError{Reason: "status check", Err: err}
	}
	if !st.Authenticated {
		c.setSession("")
		return st, &AuthError{Reason: "status reports authenticated=false"}
	}
	return st, nil
}

// Status returns the current session status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	raw, err := c.get(ctx, "status", c.baseURL+"/rest/status", nil)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return Status{}, &FetchError{Op: "status", URL: c.baseURL + "/rest/status", Attempts: 1, Err: err}
	}
	return st, nil
}

// Logout ends the session. Callers treat failures as best-effort.
func (c *Client) Logout(ctx context.Context) error {
	if c.currentSession() == "" {
		return nil
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/logout", nil)
	if err != nil {
		return err
	}
	setJSONHeaders(req)
	c.addSession(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dspace logout: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dspace logout: status %d", resp.StatusCode)
	}
	st, err := c.Status(ctx)
	c.setSession("")
	if err != nil {
		return fmt.Errorf("dspace logout status: %w", err)
	}
	c.log.Debug("dspace session closed", "okay", st.Okay)
	return nil
}

// FetchPage returns one page of filtered items. An empty slice ends paging.
func (c *Client) FetchPage(ctx context.Context, f Filter) ([]Item, error) {
	u := c.baseURL + "/rest/filtered-items?" + f.Values().Encode()
	raw, err := c.get(ctx, "filtered-items", u, nil)
	if err != nil {
		return nil, err
	}
	items, err := MapItemsPayload(raw)
	if err != nil {
		return nil, &FetchError{Op: "filtered-items", URL: u, Attempts: 1, Err: fmt.Errorf("decode: %w", err)}
	}
	return items, nil
}

// GetItem fetches a single item with everything expanded.
func (c *Client) GetItem(ctx context.Context, uuid string) (Item, error) {
	u := c.baseURL + "/rest/items/" + url.PathEscape(uuid) + "?expand=all"
	raw, err := c.get(ctx, "item", u, []int{http.StatusNotFound})
	if err != nil {
		return Item{}, err
	}
	it, err := MapItemPayload(raw)
	if err != nil {
		return Item{}, &FetchError{Op: "item", URL: u, Attempts: 1, Err: fmt.Errorf("decode: %w", err)}
	}
	return it, nil
}

// Policies fetches the policy list of one bitstream. Calls are paced so that at
// most one request is issued per configured policy delay.
func (c *Client) Policies(ctx context.Context, b Bitstream) ([]Policy, error) {
	if err := c.policies.Wait(ctx); err != nil {
		return nil, fmt.Errorf("policy pacing: %w", err)
	}
	u := c.baseURL + PolicyPath(b)
	raw, err := c.get(ctx, "policy", u, nil)
	if err != nil {
		return nil, err
	}
	out, err := MapPoliciesPayload(raw)
	if err != nil {
		return nil, &FetchError{Op: "policy", URL: u, Attempts: 1, Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}

// Values encodes the filter the way /rest/filtered-items expects it.
func (f Filter) Values() url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(f.Limit))
	q.Set("offset", strconv.Itoa(f.Offset))
	if f.QueryField != "" {
		q.Set("query_field[]", f.QueryField)
	}
	if f.QueryOp != "" {
		q.Set("query_op[]", f.QueryOp)
	}
	if f.QueryVal != "" || f.QueryField != "" {
		q.Set("query_val[]", f.QueryVal)
	}
	if f.Expand != "" {
		q.Set("expand", f.Expand)
	}
	return q
}

func (c *Client) get(ctx context.Context, op, u string, permanent []int) ([]byte, error) {
	var attempts atomic.Int32
	ctx = context.WithValue(ctx, attemptsKey{}, &attempts)
	if len(permanent) > 0 {
		ctx = context.WithValue(ctx, permanentKey{}, permanent)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Op: op, URL: u, Err: err}
	}
	setJSONHeaders(req)
	c.addSession(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, URL: u, Attempts: int(attempts.Load()), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &FetchError{Op: op, URL: u, Attempts: int(attempts.Load()), Err: ErrNotFound}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Op: op, URL: u, Attempts: int(attempts.Load()), Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	b, err := ioReadAllLimit(resp.Body, c.maxBody)
	if err != nil {
		return nil, &FetchError{Op: op, URL: u, Attempts: int(attempts.Load()), Err: err}
	}
	return b, nil
}

func (c *Client) setSession(s string) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Client) currentSession() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) addSession(req *retryablehttp.Request) {
	if s := c.currentSession(); s != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: s})
	}
}

func setJSONHeaders(req *retryablehttp.Request) {
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")
}

type attemptsKey struct{}

type permanentKey struct{}

func countAttempts(_ retryablehttp.Logger, req *http.Request, attempt int) {
	if n, ok := req.Context().Value(attemptsKey{}).(*atomic.Int32); ok {
		n.Store(int32(attempt + 1))
	}
}

func fixedBackoff(min, _ time.Duration, _ int, _ *http.Response) time.Duration {
	return min
}

// retryPolicy retries transport errors and any non-200 answer to a GET, except
// statuses the caller marked as permanent. Other methods are never retried on status.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if resp.Request != nil && resp.Request.Method != http.MethodGet {
		return false, nil
	}
	if resp.StatusCode == http.StatusOK {
		return false, nil
	}
	if resp.Request != nil {
		if permanent, ok := resp.Request.Context().Value(permanentKey{}).([]int); ok {
			for _, code := range permanent {
				if resp.StatusCode == code {
					return false, nil
				}
			}
		}
	}
	return true, nil
}

// IsNotFound reports whether err is a 404 from the repository.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
