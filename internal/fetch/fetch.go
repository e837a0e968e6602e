// Package fetch provides web page fetching and content extraction.
// It downloads a URL's HTML and extracts readable text content,
// stripping navigation, scripts, and other boilerplate. Requests to
// private, loopback and link-local addresses are refused, both by
// host name and after DNS resolution.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/santosobot/santoso/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout for fetching pages.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum response body size (10 MB).
const DefaultMaxBytes int64 = 10 * 1024 * 1024

// DefaultMaxChars is the default character limit for extracted text.
const DefaultMaxChars = 10000

const maxRedirects = 5

// ErrBlockedURL is returned when a URL targets a scheme or address the
// fetcher refuses to contact.
type ErrBlockedURL struct {
	URL    string
	Reason string
}

// Error implements the error interface.
func (e *ErrBlockedURL) Error() string {
	return fmt.Sprintf("web_fetch: blocked %s: %s", e.URL, e.Reason)
}

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url,omitempty"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	Length      int    `json:"length"`
	StatusCode  int    `json:"status_code"`
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxChars sets the default extracted text limit.
func WithMaxChars(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxChars = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithPrivateNetworks disables the private address guard. Only tests
// that serve from loopback use it.
func WithPrivateNetworks() Option {
	return func(f *Fetcher) { f.allowPrivate = true }
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client       *http.Client
	maxBytes     int64
	maxChars     int
	allowPrivate bool
	logger       *slog.Logger
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		maxBytes: DefaultMaxBytes,
		maxChars: DefaultMaxChars,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}

	t := httpkit.NewTransport()
	// A proxy would resolve the target itself and bypass the dial guard.
	t.Proxy = nil
	t.DialContext = (&net.Dialer{
		Timeout:   httpkit.DefaultDialTimeout,
		KeepAlive: httpkit.DefaultKeepAlive,
		Control:   f.dialControl,
	}).DialContext

	f.client = httpkit.NewClient(
		httpkit.WithTimeout(DefaultTimeout),
		httpkit.WithTransport(t),
	)
	f.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("web_fetch: stopped after %d redirects", maxRedirects)
		}
		return f.checkURL(req.URL)
	}
	return f
}

// Fetch downloads the URL and extracts readable text content.
// maxChars limits the output length; 0 uses the configured default.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("web_fetch: url is required")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 {
		maxChars = f.maxChars
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: invalid url: %w", err)
	}
	if err := f.checkURL(u); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		var blocked *ErrBlockedURL
		if errors.As(err, &blocked) {
			return nil, blocked
		}
		return nil, fmt.Errorf("web_fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("web_fetch: failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	result := &Result{
		URL:         rawURL,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}
	if final := resp.Request.URL.String(); final != u.String() {
		result.FinalURL = final
	}

	var content string
	switch {
	case isHTML(contentType):
		result.Title, content = extractHTML(string(body))
	case isPlainText(contentType), utf8.Valid(body):
		content = string(body)
	default:
		result.Content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
		result.Length = len(body)
		return result, nil
	}

	if utf8.RuneCountInString(content) > maxChars {
		content = truncateUTF8(content, maxChars)
		result.Truncated = true
	}
	result.Content = content
	result.Length = len(content)

	f.logger.Debug("page fetched", "url", rawURL, "status", resp.StatusCode, "length", result.Length, "truncated", result.Truncated)
	return result, nil
}

// checkURL validates scheme and host before any connection is made.
func (f *Fetcher) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ErrBlockedURL{URL: u.String(), Reason: "only http and https are allowed"}
	}
	host := u.Hostname()
	if host == "" {
		return &ErrBlockedURL{URL: u.String(), Reason: "missing host"}
	}
	if f.allowPrivate {
		return nil
	}
	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".internal") {
		return &ErrBlockedURL{URL: u.String(), Reason: "local host name"}
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return &ErrBlockedURL{URL: u.String(), Reason: "private address " + ip.String()}
	}
	return nil
}

// dialControl runs after DNS resolution with the concrete address, so
// a public name that resolves to a private IP is still refused.
func (f *Fetcher) dialControl(network, address string, _ syscall.RawConn) error {
	if f.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return &ErrBlockedURL{URL: address, Reason: "unparseable address"}
	}
	ip := net.ParseIP(host)
	if ip == nil || isPrivateIP(ip) {
		return &ErrBlockedURL{URL: address, Reason: "resolves to a private address"}
	}
	return nil
}

var extraBlocked = mustCIDRs(
	"0.0.0.0/8",
	"100.64.0.0/10", // carrier-grade NAT
	"192.0.0.0/24",
	"198.18.0.0/15",
	"fc00::/7",
)

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	for _, n := range extraBlocked {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isPlainText(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "text/plain")
}

// truncateUTF8 truncates a string to maxChars runes without splitting
// a multi-byte character.
func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
