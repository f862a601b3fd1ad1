// Package refcode generates and extracts the short correlation codes embedded
// in bank-transfer memos for description-matched payment providers.
//
// A code is <2-letter prefix><6 digits><8 uppercase hex>, 16 characters total.
// Banking apps truncate and decorate transfer descriptions, so the code has to
// stay short and be recoverable from arbitrary surrounding text. Uniqueness
// comes from second-granularity timestamps plus a digest of the transaction
// number; that is a deliberate trade-off for short codes, not a cryptographic
// guarantee.
package refcode

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Length is the fixed length of a generated code.
const Length = 16

const (
	prefixLen    = 2
	timestampLen = 6
	digestLen    = 8
)

// Generate builds a reference code for a transaction number. The prefix must
// be exactly two ASCII letters; it is upper-cased.
func Generate(prefix string, transactionNumber string, now time.Time) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if len(prefix) != prefixLen || !isAlpha(prefix) {
		return "", fmt.Errorf("refcode: prefix must be two letters, got %q", prefix)
	}
	transactionNumber = strings.TrimSpace(transactionNumber)
	if transactionNumber == "" {
		return "", fmt.Errorf("refcode: empty transaction number")
	}

	secs := now.UTC().Unix() % 1_000_000
	sum := sha256.Sum256([]byte(transactionNumber))

	return fmt.Sprintf("%s%06d%08X", prefix, secs, uint32(sum[0])<<24|uint32(sum[1])<<16|uint32(sum[2])<<8|uint32(sum[3])), nil
}

// Extract scans free text for a code carrying the given prefix. It returns
// the code and true on a match, or "" and false when no well-formed code is
// present. No match is a normal outcome: the caller treats it as "payment
// still pending".
func Extract(prefix string, text string) (string, bool) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if len(prefix) != prefixLen || !isAlpha(prefix) {
		return "", false
	}
	upper := strings.ToUpper(text)

	for offset := 0; ; {
		idx := strings.Index(upper[offset:], prefix)
		if idx < 0 {
			return "", false
		}
		start := offset + idx
		if start+Length <= len(upper) {
			candidate := upper[start : start+Length]
			if wellFormed(candidate) {
				return candidate, true
			}
		}
		offset = start + 1
		if offset >= len(upper) {
			return "", false
		}
	}
}

func wellFormed(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := prefixLen; i < prefixLen+timestampLen; i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	for i := prefixLen + timestampLen; i < Length; i++ {
		c := code[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
