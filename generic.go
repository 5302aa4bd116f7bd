package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"golang.org/x/oauth2"
)

// provider responses are small json documents, anything past this is garbage
const maxResponseBytes = 1 << 20

var userAgent = "oauth-gateway/" + versioninfo.Short()

func parseEndpoint(ustr string) (*url.URL, error) {
	u, err := url.Parse(ustr)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("input url is not http(s)")
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("url hostname was empty")
	}

	if u.User != nil {
		return nil, fmt.Errorf("url user was not empty")
	}

	return u, nil
}

func newHTTPClient(h *http.Client, timeout time.Duration) *http.Client {
	if h != nil {
		return h
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &http.Client{
		Timeout: timeout,
	}
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(req)
}

// exchangeHTTPClient wraps h so the token request carries our user agent.
func exchangeHTTPClient(h *http.Client) *http.Client {
	base := h.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &http.Client{
		Transport:     &userAgentTransport{base: base},
		CheckRedirect: h.CheckRedirect,
		Jar:           h.Jar,
		Timeout:       h.Timeout,
	}
}

// exchangeCode trades an authorization code for a token. Errors reported by
// the token endpoint come back as *ProviderError.
func exchangeCode(ctx context.Context, h *http.Client, cfg *oauth2.Config, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, h)

	tok, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode != "" {
			return nil, &ProviderError{
				Stage:       StageToken,
				Code:        re.ErrorCode,
				Description: re.ErrorDescription,
			}
		}
		return nil, fmt.Errorf("error exchanging authorization code: %w", err)
	}

	return tok, nil
}

// getJSON performs an authenticated GET and decodes the body into out.
// Non-2xx responses return a *StatusError holding the body.
func getJSON(ctx context.Context, h *http.Client, ustr, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", ustr, nil)
	if err != nil {
		return fmt.Errorf("error creating request for %s: %w", ustr, err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.Do(req)
	if err != nil {
		return fmt.Errorf("could not get response from server: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("could not read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			URL:        ustr,
			StatusCode: resp.StatusCode,
			Body:       b,
		}
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("could not unmarshal json from %s: %w", ustr, err)
	}

	return nil
}

func joinUrl(base string, elem ...string) string {
	escaped := make([]string, len(elem))
	for i, e := range elem {
		escaped[i] = url.PathEscape(e)
	}

	return strings.TrimRight(base, "/") + "/" + strings.Join(escaped, "/")
}
