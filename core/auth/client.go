package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"craftworker/logger"
)

// RequestBuilder creates a fresh request for each attempt.
type RequestBuilder = func(ctx context.Context) (*http.Request, error)

// Client sends service-to-service requests with a bearer token.
// A 401 answer refreshes the token and retries the request once.
type Client struct {
	http    *http.Client
	fetcher TokenFetcher
	log     *zap.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClient creates a Client. A nil fetcher sends requests without credentials.
func NewClient(httpClient *http.Client, fetcher TokenFetcher) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:    httpClient,
		fetcher: fetcher,
		log:     logger.Named("auth-client"),
	}
}

// Do sends the request produced by build.
func (c *Client) Do(ctx context.Context, build RequestBuilder) (*http.Response, error) {
	resp, err := c.send(ctx, build, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || c.fetcher == nil {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	c.log.Info("Access token rejected, refreshing")

	return c.send(ctx, build, true)
}

func (c *Client) send(ctx context.Context, build RequestBuilder, refresh bool) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, err
	}

	if c.fetcher != nil {
		tok, err := c.currentToken(ctx, refresh)
		if err != nil {
			if req.Body != nil {
				req.Body.Close()
			}
			return nil, err
		}
		tok.SetAuthHeader(req)
	}

	return c.http.Do(req)
}

func (c *Client) currentToken(ctx context.Context, refresh bool) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !refresh && c.token.Valid() {
		return c.token, nil
	}

	tok, err := c.fetcher.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain access token: %w", err)
	}
	c.token = tok
	return tok, nil
}
