package domain

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Category is one of the fixed scoring dimensions.
type Category int

const (
	Transparency Category = iota
	Infrastructure
	Trust
	Community
	Development

	NumCategories
)

var categoryNames = [NumCategories]string{
	"transparency",
	"infrastructure",
	"trust",
	"community",
	"development",
}

func (c Category) String() string {
	if c < 0 || c >= NumCategories {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// Scores holds one value per category; 0 means the category was not scored.
type Scores [NumCategories]int

// IsEmpty reports whether no category carries a value.
func (s Scores) IsEmpty() bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}

// UniqueKey packs (rater, target) into 128 bits: rater in the high half,
// target in the low half.
type UniqueKey struct {
	Hi uint64
	Lo uint64
}

// NewUniqueKey derives the key identifying a rater's rating of a target.
func NewUniqueKey(rater, target Name) UniqueKey {
	return UniqueKey{Hi: uint64(rater), Lo: uint64(target)}
}

// Bytes returns the big-endian 16 byte encoding, which sorts like the key.
func (k UniqueKey) Bytes() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], k.Hi)
	binary.BigEndian.PutUint64(buf[8:], k.Lo)
	return buf
}

// UniqueKeyFromBytes decodes the output of UniqueKey.Bytes.
func UniqueKeyFromBytes(b []byte) (UniqueKey, error) {
	if len(b) != 16 {
		return UniqueKey{}, fmt.Errorf("unique key must be 16 bytes, got %d", len(b))
	}
	return UniqueKey{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}, nil
}

func (k UniqueKey) String() string {
	return hex.EncodeToString(k.Bytes())
}

// Rating is one rater's current scores for a target.
type Rating struct {
	ID        uint64
	Rater     Name
	Target    Name
	Key       UniqueKey
	Scores    Scores
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is the cached aggregate for a target.
type Summary struct {
	Target         Name
	Means          [NumCategories]float64
	RatingCount    uint32
	OverallAverage float64
	UpdatedAt      time.Time
}

// HasValues reports whether any category mean is non-zero. Summaries without
// values are never persisted.
func (s Summary) HasValues() bool {
	for _, m := range s.Means {
		if m != 0 {
			return true
		}
	}
	return false
}
