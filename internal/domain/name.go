package domain

import (
	"errors"
	"fmt"
	"strings"
)

const nameCharmap = ".12345abcdefghijklmnopqrstuvwxyz"

// ErrInvalidName indicates a string that cannot be encoded as an account name.
var ErrInvalidName = errors.New("domain: invalid account name")

// Name is a chain account name packed into 64 bits: up to twelve 5-bit
// symbols followed by one 4-bit symbol.
type Name uint64

// ParseName encodes an account name. Only normalized names are accepted, so
// ParseName(s).String() == s for every valid input.
func ParseName(s string) (Name, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(s) > 13 {
		return 0, fmt.Errorf("%w: %q is longer than 13 characters", ErrInvalidName, s)
	}

	var value uint64
	n := len(s)
	if n > 12 {
		n = 12
	}
	for i := 0; i < n; i++ {
		sym, ok := charToSymbol(s[i])
		if !ok {
			return 0, fmt.Errorf("%w: %q contains %q", ErrInvalidName, s, s[i])
		}
		value = value<<5 | sym
	}
	value <<= 4 + 5*(12-uint(n))

	if len(s) == 13 {
		sym, ok := charToSymbol(s[12])
		if !ok || sym > 0x0f {
			return 0, fmt.Errorf("%w: invalid 13th character in %q", ErrInvalidName, s)
		}
		value |= sym
	}

	name := Name(value)
	if name.String() != s {
		return 0, fmt.Errorf("%w: %q is not normalized", ErrInvalidName, s)
	}
	return name, nil
}

// MustParseName is ParseName for compile-time constants and tests.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// String decodes the name, dropping trailing dots.
func (n Name) String() string {
	var out [13]byte
	tmp := uint64(n)
	for i := 0; i <= 12; i++ {
		if i == 0 {
			out[12-i] = nameCharmap[tmp&0x0f]
			tmp >>= 4
			continue
		}
		out[12-i] = nameCharmap[tmp&0x1f]
		tmp >>= 5
	}
	return strings.TrimRight(string(out[:]), ".")
}

// IsEmpty reports whether n is the zero name.
func (n Name) IsEmpty() bool { return n == 0 }

// MarshalText implements encoding.TextMarshaler.
func (n Name) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string decodes
// to the zero name, which chain payloads use for "no account".
func (n *Name) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*n = 0
		return nil
	}
	parsed, err := ParseName(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func charToSymbol(c byte) (uint64, bool) {
	switch {
	case c >= 'a' && c <= 'z':
		return uint64(c-'a') + 6, true
	case c >= '1' && c <= '5':
		return uint64(c-'1') + 1, true
	case c == '.':
		return 0, true
	}
	return 0, false
}
