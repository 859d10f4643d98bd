package report

import (
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

var errEmptyDigest = errors.New("manifest digest is empty")

// ManifestHashToQR encodes a manifest digest as a QR code PNG. An optional
// "sha256:" prefix and any non-hex characters are dropped first.
func ManifestHashToQR(hash string, size int) ([]byte, error) {
	digest := sanitizeHash(hash)
	if digest == "" {
		return nil, errEmptyDigest
	}
	if size <= 0 {
		size = 128
	}
	return qrcode.Encode(digest, qrcode.Medium, size)
}

func sanitizeHash(hash string) string {
	s := strings.TrimSpace(hash)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
