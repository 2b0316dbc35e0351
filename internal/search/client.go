// Package search writes flat documents into an Elasticsearch/OpenSearch index.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Options configures the index client.
type Options struct {
	Host     string
	Index    string
	Username string
	Password string
	Timeout  time.Duration
}

// Client creates one index document per Upload call. Uploads are never retried.
type Client struct {
	host     string
	index    string
	username string
	password string
	http     *retryablehttp.Client
}

// Result is the part of the index response the bridge reports.
type Result struct {
	ID      string `json:"_id"`
	Index   string `json:"_index"`
	Result  string `json:"result"`
	Version int    `json:"_version"`
}

// UploadError is returned for any non-2xx answer.
type UploadError struct {
	Status int
	Body   string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("index upload: status %d: %s", e.Status, e.Body)
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = opts.Timeout
	rc.RetryMax = 0
	rc.CheckRetry = noRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil

	return &Client{
		host:     strings.TrimRight(opts.Host, "/"),
		index:    strings.Trim(opts.Index, "/"),
		username: opts.Username,
		password: opts.Password,
		http:     rc,
	}
}

// DocURL is the create-document endpoint: {host}/{index}/_doc.
func (c *Client) DocURL() string {
	return c.host + "/" + c.index + "/_doc"
}

// Upload serializes doc and posts it as a new document. The index assigns the id.
func (c *Client) Upload(ctx context.Context, doc json.Marshaler) (Result, error) {
	body, err := doc.MarshalJSON()
	if err != nil {
		return Result{}, fmt.Errorf("encode document: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.DocURL(), bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("index upload: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &UploadError{Status: resp.StatusCode, Body: string(raw)}
	}
	var res Result
	_ = json.Unmarshal(raw, &res)
	return res, nil
}

func noRetry(ctx context.Context, _ *http.Response, _ error) (bool, error) {
	return false, ctx.Err()
}
