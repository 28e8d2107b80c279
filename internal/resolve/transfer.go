package resolve

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/masoudn84/npm-offline-package-mirror/internal/branding"
)

// partSuffix marks an incomplete download.
const partSuffix = ".part"

// Transfer downloads a Location to dest. Implementations must leave either
// a complete file or nothing at dest.
type Transfer interface {
	Fetch(ctx context.Context, loc *Location, dest string) error
}

// HTTPTransfer downloads tarballs over HTTP(S).
type HTTPTransfer struct {
	HTTPClient *http.Client
	Token      string // optional bearer token for private upstreams
	Logger     *log.Logger
}

// Fetch streams loc.URL into dest via a temporary .part file and verifies
// the registry-provided checksums before renaming it into place.
func (t *HTTPTransfer) Fetch(ctx context.Context, loc *Location, dest string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("User-Agent", branding.UserAgent())
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", loc.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	part := dest + partSuffix
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(part)
		}
	}()

	sha1h := sha1.New()
	integ, err := newIntegrityHash(loc.Integrity)
	if err != nil {
		return err
	}
	writers := []io.Writer{f, sha1h}
	if integ != nil {
		writers = append(writers, integ.h)
	}

	written, err := io.Copy(io.MultiWriter(writers...), resp.Body)
	if err != nil {
		return fmt.Errorf("reading download stream: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("download truncated: got %d of %d bytes", written, resp.ContentLength)
	}

	if loc.Shasum != "" {
		if actual := hex.EncodeToString(sha1h.Sum(nil)); !strings.EqualFold(actual, loc.Shasum) {
			return fmt.Errorf("checksum mismatch: expected sha1 %s, got %s", loc.Shasum, actual)
		}
	}
	if integ != nil {
		if err := integ.verify(); err != nil {
			return err
		}
	}

	if err = f.Sync(); err != nil {
		return fmt.Errorf("flushing download: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing download: %w", err)
	}
	if err = os.Rename(part, dest); err != nil {
		return fmt.Errorf("finalizing download: %w", err)
	}

	if t.Logger != nil {
		t.Logger.Debug("downloaded", "url", loc.URL, "bytes", written, "dest", dest)
	}
	return nil
}

// integrityHash checks one Subresource Integrity entry.
type integrityHash struct {
	algo     string
	expected string
	h        hash.Hash
}

// newIntegrityHash picks the first supported algorithm from an SRI string
// ("sha512-<base64> sha1-<base64>"). Unsupported or empty input yields nil.
func newIntegrityHash(sri string) (*integrityHash, error) {
	for _, entry := range strings.Fields(sri) {
		algo, digest, ok := strings.Cut(entry, "-")
		if !ok {
			continue
		}
		var h hash.Hash
		switch algo {
		case "sha512":
			h = sha512.New()
		case "sha256":
			h = sha256.New()
		default:
			continue
		}
		if _, err := base64.StdEncoding.DecodeString(digest); err != nil {
			return nil, fmt.Errorf("malformed integrity %q: %w", entry, err)
		}
		return &integrityHash{algo: algo, expected: digest, h: h}, nil
	}
	return nil, nil
}

func (i *integrityHash) verify() error {
	actual := base64.StdEncoding.EncodeToString(i.h.Sum(nil))
	if actual != i.expected {
		return fmt.Errorf("integrity mismatch: expected %s-%s, got %s-%s", i.algo, i.expected, i.algo, actual)
	}
	return nil
}
