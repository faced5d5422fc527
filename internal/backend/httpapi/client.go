// Package httpapi provides a Backend that talks to a remote storage API
// over HTTP with retry and bearer-token auth.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/model"
	"github.com/rcliao/modeldeps/internal/retry"
)

// Config holds client configuration.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryConfig retry.Config  `yaml:"retry"`
	AuthToken   string        `yaml:"auth_token"`
}

// Client implements backend.Backend against the storage API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	authToken string
}

type lookupResponse struct {
	ID string `json:"id"`
}

type listResponse struct {
	Files   []model.FileEntry   `json:"files"`
	Folders []model.FolderEntry `json:"folders"`
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken replaces the bearer token used for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// FindByPath implements backend.Backend.
func (c *Client) FindByPath(ctx context.Context, p string) (string, error) {
	q := url.Values{"path": {p}}
	resp, err := c.get(ctx, "find", p, "/api/v1/lookup?"+q.Encode(), func(body io.Reader, _ http.Header) (any, error) {
		var lr lookupResponse
		if err := json.NewDecoder(body).Decode(&lr); err != nil {
			return nil, fmt.Errorf("decode lookup response: %w", err)
		}
		if lr.ID == "" {
			return nil, backend.NotFound("find", p)
		}
		return lr.ID, nil
	})
	if err != nil {
		return "", err
	}
	return resp.(string), nil
}

// ListDirectory implements backend.Backend.
func (c *Client) ListDirectory(ctx context.Context, p string, includeDescendants bool) (*model.Listing, error) {
	q := url.Values{
		"path":        {p},
		"descendants": {strconv.FormatBool(includeDescendants)},
	}
	resp, err := c.get(ctx, "list", p, "/api/v1/list?"+q.Encode(), func(body io.Reader, _ http.Header) (any, error) {
		var lr listResponse
		if err := json.NewDecoder(body).Decode(&lr); err != nil {
			return nil, fmt.Errorf("decode list response: %w", err)
		}
		return &model.Listing{Files: lr.Files, Folders: lr.Folders}, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.(*model.Listing), nil
}

type content struct {
	data     []byte
	mimeType string
}

// FetchByID implements backend.Backend.
func (c *Client) FetchByID(ctx context.Context, id string) ([]byte, string, error) {
	resp, err := c.get(ctx, "fetch", id, "/api/v1/content/"+url.PathEscape(id), func(body io.Reader, h http.Header) (any, error) {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, retry.Retryable(fmt.Errorf("read content: %w", err))
		}
		mimeType := h.Get("Content-Type")
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		return content{data: data, mimeType: mimeType}, nil
	})
	if err != nil {
		return nil, "", err
	}
	ct := resp.(content)
	return ct.data, ct.mimeType, nil
}

// get issues a GET with retry and hands a 200 body to decode. Network
// errors and 5xx responses are retried.
func (c *Client) get(ctx context.Context, op, target, pathAndQuery string, decode func(io.Reader, http.Header) (any, error)) (any, error) {
	return retry.Do(ctx, c.retryConfig, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
		if err != nil {
			return nil, err
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, retry.Retryable(fmt.Errorf("%s %s: %w", op, target, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, statusError(op, target, resp)
		}
		return decode(resp.Body, resp.Header)
	})
}

func statusError(op, target string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var cause error
	if s := strings.TrimSpace(string(msg)); s != "" {
		cause = errors.New(s)
	}

	se := &backend.StatusError{Op: op, Target: target, Code: resp.StatusCode, Err: cause}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		se.Status = backend.StatusNotFound
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		se.Status = backend.StatusForbidden
	case resp.StatusCode >= 500:
		return retry.Retryable(se)
	}
	return se
}
