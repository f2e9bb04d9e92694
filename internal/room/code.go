package room

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"regexp"

	"github.com/hudjsw143/royal-ishq/internal/session"
)

const (
	// CodePrefix starts every room code; the suffix is what players
	// actually have to relay.
	CodePrefix = "ROYAL"

	// CodeSuffixLength is the number of random characters after the
	// prefix.
	CodeSuffixLength = 4

	// CodeChars excludes 0/O/1/I so codes survive being read aloud.
	CodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// codeAttempts bounds collision retries during generation.
	codeAttempts = 5
)

var codePattern = regexp.MustCompile(fmt.Sprintf(`^%s[%s]{%d}$`, CodePrefix, CodeChars, CodeSuffixLength))

// ValidCode reports whether a string is a well-formed room code.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// GenerateCode returns a fresh candidate room code.
func GenerateCode() string {
	code := make([]byte, 0, len(CodePrefix)+CodeSuffixLength)
	code = append(code, CodePrefix...)
	for range CodeSuffixLength {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(CodeChars))))
		if err != nil {
			// fallback to math/rand if crypto fails
			code = append(code, CodeChars[rand.IntN(len(CodeChars))])
			continue
		}
		code = append(code, CodeChars[n.Int64()])
	}
	return string(code)
}

// uniqueCode generates a code that no existing room uses, retrying a
// bounded number of times before giving up.
func uniqueCode(ctx context.Context, store session.Store) (string, error) {
	for range codeAttempts {
		code := GenerateCode()
		_, err := store.Get(ctx, code)
		if errors.Is(err, session.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", ErrCodeCollision
}
