package transfer

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/italolelis/fetcher/internal/logctx"
)

var (
	// filename*=charset''encoded-name (RFC 5987)
	extendedFilenameRe = regexp.MustCompile(`(?i)filename\*\s*=\s*([^'";]+)''([^;]+)`)
	// filename="name" or filename=name
	plainFilenameRe = regexp.MustCompile(`(?i)filename\s*=\s*"?([^";]+)"?`)
)

// TargetName resolves the destination file name for a response. The override
// wins, then Content-Disposition, then the last segment of the final URL.
func TargetName(resp *http.Response, override string) string {
	if override != "" {
		return SanitizeName(override)
	}

	if resp != nil {
		if name := nameFromContentDisposition(resp.Header.Get("Content-Disposition")); name != "" {
			return SanitizeName(name)
		}

		if resp.Request != nil && resp.Request.URL != nil {
			if name := nameFromURL(resp.Request.URL); name != "" {
				return SanitizeName(name)
			}
		}
	}

	return FallbackName
}

func nameFromContentDisposition(cd string) string {
	if cd == "" {
		return ""
	}

	if m := extendedFilenameRe.FindStringSubmatch(cd); m != nil {
		// Only UTF-8 and its ASCII subset are decoded; other charsets fall back
		// to plain percent-decoding which is what most servers send anyway.
		if name, err := url.PathUnescape(strings.TrimSpace(m[2])); err == nil {
			return name
		}

		return strings.TrimSpace(m[2])
	}

	if m := plainFilenameRe.FindStringSubmatch(cd); m != nil {
		return m[1]
	}

	return ""
}

func nameFromURL(u *url.URL) string {
	p := u.Path
	if unescaped, err := url.PathUnescape(u.EscapedPath()); err == nil {
		p = unescaped
	}

	name := path.Base(p)
	if name == "/" || name == "." {
		return ""
	}

	return name
}

// SanitizeName replaces path separators and control characters with '_' and
// trims surrounding whitespace.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}

		return r
	}, name)

	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return FallbackName
	}

	return name
}

// Probe issues a HEAD request to learn the size and range support of url.
// A failed probe is reported as an unknown capability, never as an error.
func Probe(ctx context.Context, client *http.Client, rawURL string) Capability {
	logger := logctx.LoggerFromContext(ctx)
	unknown := Capability{Size: -1}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return unknown
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.DebugContext(ctx, "probe failed", "url", rawURL, "err", err)

		return unknown
	}

	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		logger.DebugContext(ctx, "probe rejected", "url", rawURL, "status", resp.StatusCode)

		return unknown
	}

	return Capability{
		Known:  true,
		Size:   contentLength(resp),
		Ranges: acceptsRanges(resp.Header),
	}
}

func acceptsRanges(h http.Header) bool {
	return strings.EqualFold(strings.TrimSpace(h.Get("Accept-Ranges")), "bytes")
}

// contentLength returns the announced body length, treating zero and missing
// values as unknown.
func contentLength(resp *http.Response) int64 {
	if resp.ContentLength > 0 {
		return resp.ContentLength
	}

	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && n > 0 {
		return n
	}

	return -1
}
