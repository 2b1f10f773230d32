package patch

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint returns the hex SHA-256 of the NFC-normalized content.
//
// Normalizing first means an editor re-encoding equivalent text (combining
// characters vs precomposed) does not change a file's recorded identity in
// the journal.
func Fingerprint(content string) string {
	normalized := norm.NFC.String(content)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
