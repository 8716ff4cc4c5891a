// Package partition maps document identifiers to shards.
//
// The hash is MongoDB's hashed index key, so the same assignment can be
// evaluated server-side with $toHashedIndexKey and pushed into a change
// stream pipeline instead of filtering after the fact.
package partition

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalidShard is returned for shard parameters outside their domain.
var ErrInvalidShard = errors.New("invalid shard configuration")

// Canonical BSON type ordinals used by MongoDB when hashing an element.
const (
	canonicalNumber   int32 = 10
	canonicalString   int32 = 15
	canonicalObjectID int32 = 35
)

// Shard identifies the slice of the key space a worker instance owns.
type Shard struct {
	Index int
	Count int
}

// Unsharded is the zero-configuration assignment: one shard owning everything.
var Unsharded = Shard{Index: 0, Count: 1}

// Validate checks count >= 1 and index in [0, count).
func (s Shard) Validate() error {
	if s.Count < 1 {
		return fmt.Errorf("%w: shard count must be >= 1, got %d", ErrInvalidShard, s.Count)
	}
	if s.Index < 0 || s.Index >= s.Count {
		return fmt.Errorf("%w: shard index must be in [0, %d), got %d", ErrInvalidShard, s.Count, s.Index)
	}
	return nil
}

// IsSharded reports whether events need filtering at all.
func (s Shard) IsSharded() bool {
	return s.Count > 1
}

// Owns reports whether the document with the given _id belongs to this shard.
func (s Shard) Owns(key any) bool {
	if !s.IsSharded() {
		return true
	}
	return ShardOf(key, s.Count) == s.Index
}

// StreamID derives the resume-record identifier for a logical stream. Each
// shard tracks its progress under its own identifier.
func (s Shard) StreamID(name string) string {
	if !s.IsSharded() {
		return name
	}
	return fmt.Sprintf("%s_shard_%d_of_%d", name, s.Index, s.Count)
}

func (s Shard) String() string {
	return fmt.Sprintf("shard %d of %d", s.Index, s.Count)
}

// ShardOf returns the shard in [0, count) owning key. A count of one or less
// maps everything to shard 0.
func ShardOf(key any, count int) int {
	if count <= 1 {
		return 0
	}
	n := int64(count)
	m := HashKey(key) % n
	if m < 0 {
		m += n
	}
	return int(m)
}

// HashKey computes MongoDB's 64-bit hashed index key for an _id value:
// md5(seed || canonicalType || value), first eight digest bytes read little
// endian. Numbers are squashed to int64 the way the server does.
//
// Only ObjectID, string, int, int32, int64 and float64 ids match the
// server's $toHashedIndexKey. Any other type (binary, decimal, embedded
// document) is hashed through its fmt.Sprint form, which is stable in process
// but disagrees with the server. Change streams filter on the server, so this
// only affects in-process sources.
func HashKey(key any) int64 {
	h := md5.New()
	var word [4]byte
	h.Write(word[:]) // seed 0

	writeType := func(t int32) {
		binary.LittleEndian.PutUint32(word[:], uint32(t))
		h.Write(word[:])
	}
	writeInt64 := func(v int64) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}

	switch v := key.(type) {
	case primitive.ObjectID:
		writeType(canonicalObjectID)
		h.Write(v[:])
	case string:
		writeType(canonicalString)
		binary.LittleEndian.PutUint32(word[:], uint32(len(v)+1))
		h.Write(word[:])
		h.Write([]byte(v))
		h.Write([]byte{0})
	case int:
		writeType(canonicalNumber)
		writeInt64(int64(v))
	case int32:
		writeType(canonicalNumber)
		writeInt64(int64(v))
	case int64:
		writeType(canonicalNumber)
		writeInt64(v)
	case float64:
		writeType(canonicalNumber)
		writeInt64(safeNumberLong(v))
	default:
		return HashKey(fmt.Sprint(v))
	}

	sum := h.Sum(nil)
	return int64(binary.LittleEndian.Uint64(sum[:8]))
}

// safeNumberLong mirrors the server's saturating double to long conversion.
func safeNumberLong(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}
