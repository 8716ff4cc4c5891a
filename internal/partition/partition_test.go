package partition

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestShard_Validate(t *testing.T) {
	tests := []struct {
		name    string
		shard   Shard
		wantErr bool
	}{
		{"unsharded", Unsharded, false},
		{"last shard", Shard{Index: 3, Count: 4}, false},
		{"zero count", Shard{Index: 0, Count: 0}, true},
		{"negative count", Shard{Index: 0, Count: -2}, true},
		{"index equals count", Shard{Index: 2, Count: 2}, true},
		{"negative index", Shard{Index: -1, Count: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.shard.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidShard)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestShardOf_SingleShardOwnsEverything(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("doc-%d", i)
		assert.Equal(t, 0, ShardOf(id, 1))
		assert.True(t, Unsharded.Owns(id))
	}
	assert.Equal(t, 0, ShardOf("x", 0))
}

func TestShardOf_DisjointAndCovering(t *testing.T) {
	keys := make([]any, 0, 600)
	for i := 0; i < 200; i++ {
		keys = append(keys, fmt.Sprintf("user-%d", i), primitive.NewObjectID(), int64(i))
	}

	for _, count := range []int{2, 3, 5, 8} {
		t.Run(fmt.Sprintf("count=%d", count), func(t *testing.T) {
			for _, key := range keys {
				owners := 0
				for idx := 0; idx < count; idx++ {
					if (Shard{Index: idx, Count: count}).Owns(key) {
						owners++
					}
				}
				require.Equal(t, 1, owners, "key %v must have exactly one owner", key)

				got := ShardOf(key, count)
				assert.GreaterOrEqual(t, got, 0)
				assert.Less(t, got, count)
				assert.Equal(t, got, ShardOf(key, count), "assignment must be stable")
			}
		})
	}
}

func TestShardOf_Distribution(t *testing.T) {
	const count, n = 4, 4000
	buckets := make([]int, count)
	// sequential identifiers must still spread evenly
	for i := 0; i < n; i++ {
		buckets[ShardOf(fmt.Sprintf("%024d", i), count)]++
	}
	for idx, got := range buckets {
		assert.InDelta(t, n/count, got, n/count/4, "shard %d is unbalanced: %v", idx, buckets)
	}
}

func TestHashKey(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("5f1d7a3b9c2e4a0012345678")
	require.NoError(t, err)

	assert.Equal(t, HashKey(oid), HashKey(oid))
	assert.NotEqual(t, HashKey(oid), HashKey(oid.Hex()), "type participates in the hash")
	assert.Equal(t, HashKey(int32(7)), HashKey(int64(7)), "numbers are squashed to int64")
	assert.Equal(t, HashKey(7), HashKey(7.0))
	assert.Equal(t, HashKey(true), HashKey("true"))
}

func TestShard_StreamID(t *testing.T) {
	assert.Equal(t, "users", Unsharded.StreamID("users"))
	assert.Equal(t, "users_shard_1_of_3", Shard{Index: 1, Count: 3}.StreamID("users"))
	assert.Equal(t, "shard 1 of 3", Shard{Index: 1, Count: 3}.String())
}

func TestHashKey_OtherTypesUseStringForm(t *testing.T) {
	bin := primitive.Binary{Subtype: 4, Data: []byte{1, 2, 3, 4}}
	dec, err := primitive.ParseDecimal128("12.50")
	require.NoError(t, err)

	for _, key := range []any{bin, dec, true} {
		assert.Equal(t, HashKey(fmt.Sprint(key)), HashKey(key), "%T", key)
		assert.Equal(t, HashKey(key), HashKey(key), "%T is stable", key)
	}
}
