package crawler

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptrace"
	"time"
)

// maxBodySize caps how much of a response body is read into memory
const maxBodySize = 64 << 20

// Transport is the fetch capability the Fetcher depends on
type Transport interface {
	Get(ctx context.Context, url string) (*HTTPResponse, error)
}

// HTTPClient issues GET requests with a User-Agent picked at random from a
// fixed pool and records timing for each request
type HTTPClient struct {
	client        *http.Client
	userAgents    []string
	customHeaders map[string]string
}

// HTTPMetrics contains timing for one request
type HTTPMetrics struct {
	TTFB         time.Duration // Time to First Byte
	DownloadTime time.Duration // Total download time
}

// HTTPResponse contains the response and metrics
type HTTPResponse struct {
	StatusCode  int
	Body        []byte
	ContentType string
	UserAgent   string // User-Agent the request was sent with
	FinalURL    string // After following redirects
	Metrics     HTTPMetrics
}

// NewHTTPClient creates a client. userAgents must not be empty.
func NewHTTPClient(userAgents []string, timeout time.Duration, headers map[string]string) (*HTTPClient, error) {
	if len(userAgents) == 0 {
		return nil, fmt.Errorf("at least one user agent is required")
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	h := &HTTPClient{
		client:        client,
		userAgents:    append([]string(nil), userAgents...),
		customHeaders: make(map[string]string, len(headers)),
	}
	for k, v := range headers {
		h.customHeaders[k] = v
	}
	return h, nil
}

// Get performs an HTTP GET. Non-2xx responses are returned, not treated as
// errors; only transport failures produce an error.
func (h *HTTPClient) Get(ctx context.Context, url string) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	userAgent := h.userAgents[rand.IntN(len(h.userAgents))]
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for name, value := range h.customHeaders {
		req.Header.Set(name, value)
	}

	var metrics HTTPMetrics
	var firstByteTime time.Time
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			firstByteTime = time.Now()
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	startTime := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !firstByteTime.IsZero() {
		metrics.TTFB = firstByteTime.Sub(startTime)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	metrics.DownloadTime = time.Since(startTime)

	return &HTTPResponse{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		UserAgent:   userAgent,
		FinalURL:    resp.Request.URL.String(),
		Metrics:     metrics,
	}, nil
}

// Close releases idle connections
func (h *HTTPClient) Close() {
	h.client.CloseIdleConnections()
}
