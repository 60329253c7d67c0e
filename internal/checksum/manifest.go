package checksum

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/italolelis/fetcher/internal/transfer"
)

var (
	// HEX  name | HEX *name
	digestFirstRe = regexp.MustCompile(`^([0-9a-fA-F]{64})\s+\*?(.*)$`)
	// SHA256 (name) = HEX
	bsdRe = regexp.MustCompile(`(?i)^sha256\s*\((.+)\)\s*=\s*([0-9a-fA-F]{64})$`)
	// name: HEX | name=HEX
	nameFirstRe = regexp.MustCompile(`^(.*?)[=:]\s*([0-9a-fA-F]{64})$`)
	hexRe       = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

	bundleRe = regexp.MustCompile(`(?i)^(?:.*[-_.])?(sha256sums?|sha256sum\.sha|checksums?|sha256|sums)(\.\w+)?$`)
)

var archiveExts = []string{".tar.gz", ".tgz", ".zip", ".tar.xz", ".txz", ".tar.bz2", ".tbz2"}

var sidecarExts = []string{".sha256sum", ".sha256"}

// Manifest maps file names to lowercase hex sha256 digests. It is built once
// per batch and only read afterwards.
type Manifest map[string]string

// Lookup returns the digest for name, trying the exact name first and then the
// name without its archive extension.
func (m Manifest) Lookup(name string) (string, bool) {
	if d, ok := m[name]; ok {
		return d, true
	}

	d, ok := m[StripArchiveExt(name)]

	return d, ok
}

// Merge copies every entry of other into m, overwriting duplicates.
func (m Manifest) Merge(other Manifest) {
	for k, v := range other {
		m[k] = v
	}
}

// ParseManifest reads a checksum bundle. Blank lines and '#' comments are
// ignored. A manifest with content but no recognisable line yields an
// *transfer.InvalidManifestError.
func ParseManifest(name string, r io.Reader) (Manifest, error) {
	m := make(Manifest)
	scanner := bufio.NewScanner(r)

	var lines int

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lines++

		file, digest, ok := parseLine(line)
		if !ok {
			continue
		}

		m[file] = digest
	}

	if err := scanner.Err(); err != nil {
		return nil, &transfer.InvalidManifestError{Name: name, Reason: "read failed", Err: err}
	}

	if lines > 0 && len(m) == 0 {
		return nil, &transfer.InvalidManifestError{
			Name:   name,
			Reason: fmt.Sprintf("none of %d lines matched a known checksum format", lines),
		}
	}

	return m, nil
}

func parseLine(line string) (string, string, bool) {
	if m := digestFirstRe.FindStringSubmatch(line); m != nil {
		if file := strings.TrimSpace(m[2]); file != "" {
			return file, strings.ToLower(m[1]), true
		}

		return "", "", false
	}

	if m := bsdRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), strings.ToLower(m[2]), true
	}

	if m := nameFirstRe.FindStringSubmatch(line); m != nil {
		if file := strings.TrimSpace(m[1]); file != "" {
			return file, strings.ToLower(m[2]), true
		}
	}

	return "", "", false
}

// ParseSidecar reads a per-file checksum such as "tool.tar.gz.sha256", whose
// first field is the digest. The entry is keyed by the asset the sidecar
// describes.
func ParseSidecar(name string, r io.Reader) (Manifest, error) {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return nil, &transfer.InvalidManifestError{Name: name, Reason: "read failed", Err: err}
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 || !hexRe.MatchString(fields[0]) {
		return nil, &transfer.InvalidManifestError{Name: name, Reason: "first field is not a sha256 digest"}
	}

	return Manifest{SidecarTarget(name): strings.ToLower(fields[0])}, nil
}

// StripArchiveExt removes a known archive extension, or else the last dotted
// suffix.
func StripArchiveExt(name string) string {
	for _, ext := range archiveExts {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}

	if ext := path.Ext(name); ext != "" && ext != name {
		return strings.TrimSuffix(name, ext)
	}

	return name
}

// IsBundle reports whether name looks like a multi-file checksum manifest,
// e.g. SHA256SUMS or checksums.txt.
func IsBundle(name string) bool {
	return !IsSidecar(name) && bundleRe.MatchString(name)
}

// IsSidecar reports whether name is a per-file checksum.
func IsSidecar(name string) bool {
	return SidecarTarget(name) != name
}

// SidecarTarget returns the asset name a sidecar checksum file refers to.
func SidecarTarget(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range sidecarExts {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}

	return name
}
