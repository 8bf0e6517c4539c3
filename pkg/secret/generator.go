// Package secret generates temporary passwords and opaque tokens, and seals
// secrets stored at rest.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	lower   = "abcdefghijkmnopqrstuvwxyz"
	upper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digits  = "23456789"
	symbols = "!@#$%^&*-_=+?"

	// MinPasswordLen is the shortest password Password will produce.
	MinPasswordLen = 12
)

// Generator produces random credentials. The zero value is ready to use.
type Generator struct{}

// Password returns a random password of at least MinPasswordLen characters
// containing at least one lowercase, uppercase, digit and symbol character.
func (Generator) Password(n int) (string, error) {
	if n < MinPasswordLen {
		n = MinPasswordLen
	}
	classes := []string{lower, upper, digits, symbols}
	all := lower + upper + digits + symbols

	out := make([]byte, 0, n)
	for _, cls := range classes {
		c, err := pick(cls)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < n {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	// Fisher-Yates so the guaranteed characters are not always in front.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

// Token returns nBytes of randomness encoded as unpadded base64url.
func (Generator) Token(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", fmt.Errorf("token length must be positive")
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pick(alphabet string) (byte, error) {
	i, err := randInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randInt(max int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}
