// Package shamir adapts github.com/corvus-ch/shamir to the share shape
// carried by envelopes and key server responses.
package shamir

import (
	"errors"
	"fmt"
	"slices"

	sss "github.com/corvus-ch/shamir"
)

// MaxShares is the largest n supported; share x-coordinates are 1..255.
const MaxShares = 255

var (
	ErrInvalidParams   = errors.New("shamir: invalid parameters")
	ErrNotEnoughShares = errors.New("shamir: not enough shares")
	ErrInconsistentSet = errors.New("shamir: inconsistent share set")
)

// Share is one point of the split polynomial for every secret byte.
type Share struct {
	X byte
	Y []byte
}

// Split divides secret into n shares with reconstruction threshold t.
// Shares come back ordered by X. A threshold of one gives every share a
// copy of the secret.
func Split(secret []byte, n, t int) ([]Share, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidParams)
	}
	if t < 1 || n < t || n > MaxShares {
		return nil, fmt.Errorf("%w: threshold %d of %d", ErrInvalidParams, t, n)
	}

	if t == 1 {
		shares := make([]Share, n)
		for i := range shares {
			shares[i] = Share{X: byte(i + 1), Y: slices.Clone(secret)}
		}
		return shares, nil
	}

	parts, err := sss.Split(secret, n, t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	shares := make([]Share, 0, len(parts))
	for x, y := range parts {
		shares = append(shares, Share{X: x, Y: y})
	}
	slices.SortFunc(shares, func(a, b Share) int { return int(a.X) - int(b.X) })
	return shares, nil
}

// Combine reconstructs the secret from at least t shares. Supplying fewer
// than t distinct shares yields an unrelated value, not an error; callers
// verify the result (the envelope body is authenticated).
func Combine(shares []Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, ErrNotEnoughShares
	}
	size := len(shares[0].Y)
	parts := make(map[byte][]byte, len(shares))
	for _, s := range shares {
		if _, dup := parts[s.X]; s.X == 0 || dup {
			return nil, fmt.Errorf("%w: duplicate or zero x %d", ErrInconsistentSet, s.X)
		}
		if len(s.Y) != size || size == 0 {
			return nil, fmt.Errorf("%w: share lengths differ", ErrInconsistentSet)
		}
		parts[s.X] = s.Y
	}

	if len(parts) == 1 {
		return slices.Clone(shares[0].Y), nil
	}
	secret, err := sss.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInconsistentSet, err)
	}
	return secret, nil
}
