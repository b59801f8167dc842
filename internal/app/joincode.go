package app

import (
	"crypto/rand"
	"math/big"
	"strings"

	"multiplayer-quiz-service/internal/domain"
)

const (
	joinCodeLength   = 6
	joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewJoinCode returns a random 6 character code from [A-Z0-9].
func NewJoinCode() string {
	var b strings.Builder
	b.Grow(joinCodeLength)
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := 0; i < joinCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b.WriteByte(joinCodeAlphabet[n.Int64()])
	}
	return b.String()
}

// NormalizeJoinCode upper-cases and trims user input and validates its shape.
func NormalizeJoinCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != joinCodeLength {
		return "", domain.ErrInvalidJoinCode
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(joinCodeAlphabet, rune(code[i])) {
			return "", domain.ErrInvalidJoinCode
		}
	}
	return code, nil
}
