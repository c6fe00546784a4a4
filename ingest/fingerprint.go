package ingest

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"umamicore/api/models"
)

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{16,128}$`)

// ValidateFingerprint accepts lower-case hex of 16 to 128 characters.
func ValidateFingerprint(fp string) error {
	if !fingerprintPattern.MatchString(fp) {
		return fmt.Errorf("%w: malformed fingerprint", models.ErrInvalidInput)
	}
	return nil
}

// Fingerprinter derives a non-reversible visitor id from the request. The
// key is the configured salt, optionally mixed with the current month so
// ids stop correlating across months.
type Fingerprinter struct {
	salt   []byte
	rotate bool
}

func NewFingerprinter(salt string, rotate bool) *Fingerprinter {
	return &Fingerprinter{salt: []byte(salt), rotate: rotate}
}

func (f *Fingerprinter) key(at time.Time) []byte {
	material := append([]byte{}, f.salt...)
	if f.rotate {
		material = append(material, at.UTC().Format("2006-01")...)
	}
	sum := blake2b.Sum256(material)
	return sum[:]
}

func (f *Fingerprinter) Compute(websiteID uuid.UUID, ip, userAgent string, at time.Time) (string, error) {
	h, err := blake2b.New256(f.key(at))
	if err != nil {
		return "", fmt.Errorf("fingerprint hash: %w", err)
	}
	h.Write(websiteID[:])
	h.Write([]byte{0})
	h.Write([]byte(ip))
	h.Write([]byte{0})
	h.Write([]byte(userAgent))
	return hex.EncodeToString(h.Sum(nil)), nil
}
