package acme

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// maxResponseBody bounds how much of a CA response is read into memory.
const maxResponseBody = 1 << 20

// Response is the outcome of one transport round trip. Every field is
// captured from that round trip alone; nothing is carried over from
// earlier calls.
type Response struct {
	StatusCode int
	Body       []byte
	Nonce      string              // Replay-Nonce header, empty when absent
	Location   string              // Location header, empty when absent
	Links      map[string][]string // Link header targets keyed by rel, in header order
}

// Transport issues the HTTP exchanges of the protocol. Post sends a signed
// envelope or plain JSON body; Get fetches an unauthenticated resource.
// Relative URIs resolve against the configured CA base.
type Transport interface {
	Post(ctx context.Context, uri string, body []byte) (*Response, error)
	Get(ctx context.Context, uri string) (*Response, error)
}

// HTTPTransport is the production Transport over net/http.
type HTTPTransport struct {
	base   *url.URL
	client *http.Client
	log    *zap.Logger
}

// Ensure HTTPTransport implements Transport (compile-time check).
var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport builds a transport rooted at the given CA base URL.
// A nil client falls back to http.DefaultClient; a nil logger is replaced
// with a no-op logger.
func NewHTTPTransport(baseURL string, client *http.Client, log *zap.Logger) (*HTTPTransport, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing CA base URL %q: %w", ErrConfiguration, baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: CA base URL %q is not absolute", ErrConfiguration, baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPTransport{base: base, client: client, log: log}, nil
}

// Post sends body as JSON to the resolved URI.
func (t *HTTPTransport) Post(ctx context.Context, uri string, body []byte) (*Response, error) {
	target, err := t.resolve(uri)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("acme: building POST %s: %w", target, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return t.do(req)
}

// Get fetches the resolved URI.
func (t *HTTPTransport) Get(ctx context.Context, uri string) (*Response, error) {
	target, err := t.resolve(uri)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("acme: building GET %s: %w", target, err)
	}

	return t.do(req)
}

func (t *HTTPTransport) do(req *http.Request) (*Response, error) {
	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acme: %s %s: %w", req.Method, req.URL, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("acme: reading response from %s: %w", req.URL, err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Nonce:      httpResp.Header.Get("Replay-Nonce"),
		Location:   httpResp.Header.Get("Location"),
		Links:      parseLinks(httpResp.Header["Link"]),
	}
	t.log.Debug("transport round trip",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode))
	return resp, nil
}

// resolve turns a possibly relative URI into an absolute one against the
// CA base.
func (t *HTTPTransport) resolve(uri string) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: parsing URI %q: %w", ErrConfiguration, uri, err)
	}
	return t.base.ResolveReference(ref).String(), nil
}

var (
	linkBrackets = regexp.MustCompile("[<>]")
	linkRelParam = regexp.MustCompile(`(.+) *= *"(.+)"`)
)

// parseLinks extracts `Link: <target>; rel="relation"` headers into a map
// keyed by relation. Targets for a repeated relation keep header order.
func parseLinks(headers []string) map[string][]string {
	links := make(map[string][]string)
	for _, header := range headers {
		for _, link := range strings.Split(header, ",") {
			link = linkBrackets.ReplaceAllString(link, "")
			parts := strings.Split(link, ";")
			if len(parts) < 2 {
				continue
			}
			matches := linkRelParam.FindStringSubmatch(parts[1])
			if len(matches) == 0 {
				continue
			}
			rel := matches[2]
			links[rel] = append(links[rel], strings.TrimSpace(parts[0]))
		}
	}
	return links
}
