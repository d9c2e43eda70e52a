package idgen

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generator produces short random display names such as "punchcard:a9XkQ".
type Generator struct {
	prefix string
	length int
}

// New constructs a Generator. length must be positive.
func New(prefix string, length int) (Generator, error) {
	if length <= 0 {
		return Generator{}, errors.New("name length must be positive")
	}
	return Generator{prefix: prefix, length: length}, nil
}

// Name returns the prefix followed by length characters drawn uniformly from [a-zA-Z0-9].
func (g Generator) Name() (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return g.prefix + string(buf), nil
}
