package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultIPFSGateway serves ipfs:// references over HTTPS.
const DefaultIPFSGateway = "https://ipfs.io/ipfs/"

const maxCertificateBytes = 10 << 20

// ErrCertificateTooLarge is returned for certificates over maxCertificateBytes.
var ErrCertificateTooLarge = errors.New("certificate exceeds size limit")

var certificateHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidCertificateHash reports whether h has the reported-hash shape
// (0x followed by 64 hex characters). It is a shape check only.
func ValidCertificateHash(h string) bool {
	return certificateHashPattern.MatchString(h)
}

// HTTPCertificateFetcher retrieves certificates over HTTP(S), rewriting
// ipfs:// references through a gateway.
type HTTPCertificateFetcher struct {
	client  *http.Client
	gateway string
}

// NewHTTPCertificateFetcher creates a fetcher. An empty gateway uses
// DefaultIPFSGateway.
func NewHTTPCertificateFetcher(gateway string, timeout time.Duration) *HTTPCertificateFetcher {
	if gateway == "" {
		gateway = DefaultIPFSGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPCertificateFetcher{
		client:  &http.Client{Timeout: timeout},
		gateway: gateway,
	}
}

// Resolve maps a certificate reference to a fetchable URL.
func (f *HTTPCertificateFetcher) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse certificate reference: %w", err)
	}
	switch u.Scheme {
	case "ipfs":
		path := strings.TrimPrefix(u.Host+u.Path, "ipfs/")
		if path == "" {
			return "", errors.New("ipfs reference has no content id")
		}
		return f.gateway + path, nil
	case "http", "https":
		return ref, nil
	default:
		return "", fmt.Errorf("unsupported certificate scheme %q", u.Scheme)
	}
}

func (f *HTTPCertificateFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	target, err := f.Resolve(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build certificate request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch certificate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch certificate: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCertificateBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	if len(body) > maxCertificateBytes {
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrCertificateTooLarge, ref, maxCertificateBytes)
	}
	return body, nil
}

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "0x" + hex.EncodeToString(sum[:])
}
