// Package release turns the assets of a GitHub release into transfer
// requests, fetching checksum assets first so data assets can be verified.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/italolelis/fetcher/internal/transfer"
	"golang.org/x/oauth2"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// Asset is a downloadable file attached to a release.
type Asset struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
	Size int64  `json:"size"`
}

// Release is the subset of the GitHub release payload the fetcher needs.
type Release struct {
	Tag    string  `json:"tag_name"`
	Name   string  `json:"name"`
	Assets []Asset `json:"assets"`
}

// Client reads release metadata from the GitHub API.
type Client struct {
	http    *http.Client
	baseURL string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at another API root, e.g. GitHub Enterprise.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// NewClient returns a GitHub client. With a token, API calls are
// authenticated through an oauth2 transport layered over hc. The token is
// only attached to API calls, never to asset downloads.
func NewClient(ctx context.Context, hc *http.Client, token string, opts ...ClientOption) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}

	if token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	c := &Client{http: hc, baseURL: DefaultAPIURL}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Release fetches a release by tag, or the latest one when tag is empty.
func (c *Client) Release(ctx context.Context, repo, tag string) (*Release, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("repository must be owner/name, got %q", repo)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, url.PathEscape(owner), url.PathEscape(name))
	if tag != "" {
		endpoint = fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", c.baseURL,
			url.PathEscape(owner), url.PathEscape(name), url.PathEscape(tag))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building release request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transfer.NetworkError{Operation: "get_release", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

		return nil, &transfer.StatusError{URL: endpoint, Code: resp.StatusCode, Status: resp.Status}
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}

	if rel.Tag == "" {
		rel.Tag = tag
	}

	return &rel, nil
}
