package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/propagator/internal/events"
	"github.com/syntrixbase/propagator/internal/partition"
	"github.com/syntrixbase/propagator/internal/source"
)

func insert(coll, id string) *events.ChangeEvent {
	return &events.ChangeEvent{
		Collection:        coll,
		Operation:         events.OperationInsert,
		DocumentKey:       id,
		FullDocumentAfter: events.Document{"_id": id},
	}
}

func nextWithin(t *testing.T, sub source.Subscription) *events.ChangeEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, err := sub.Next(ctx)
	require.NoError(t, err)
	return evt
}

func TestLog_StartsFromNowWithoutResumePosition(t *testing.T) {
	log := NewLog()
	log.Append(insert("users", "old"))

	sub, err := log.Subscribe(context.Background(), source.Request{Collection: "users", Shard: partition.Unsharded})
	require.NoError(t, err)
	defer sub.Close(context.Background())

	log.Append(insert("users", "new"))
	assert.Equal(t, "new", nextWithin(t, sub).DocumentID)
}

func TestLog_ResumesStrictlyAfterPosition(t *testing.T) {
	log := NewLog()
	first := log.Append(insert("users", "a"))
	log.Append(insert("users", "b"))
	log.Append(insert("articles", "x"))
	log.Append(insert("users", "c"))

	sub, err := log.Subscribe(context.Background(), source.Request{
		Collection: "users",
		Shard:      partition.Unsharded,
		ResumeFrom: first,
	})
	require.NoError(t, err)

	assert.Equal(t, "b", nextWithin(t, sub).DocumentID)
	assert.Equal(t, "c", nextWithin(t, sub).DocumentID, "other collections are filtered out")
	assert.Equal(t, []events.Position{first}, log.ResumedFrom("users"))
}

func TestLog_ShardFilterIsDisjoint(t *testing.T) {
	log := NewLog()
	var ids []string
	for i := 0; i < 40; i++ {
		ids = append(ids, fmt.Sprintf("user-%d", i))
	}
	var start events.Position
	for i, id := range ids {
		pos := log.Append(insert("users", id))
		if i == 0 {
			start = pos
		}
	}

	seen := make(map[string]int)
	for idx := 0; idx < 3; idx++ {
		shard := partition.Shard{Index: idx, Count: 3}
		// resume from just before the first entry
		sub, err := log.Subscribe(context.Background(), source.Request{
			Collection: "users",
			Shard:      shard,
			ResumeFrom: events.Position{0, 0, 0, 0, 0, 0, 0, 0},
		})
		require.NoError(t, err)
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			evt, err := sub.Next(ctx)
			cancel()
			if err != nil {
				break
			}
			assert.True(t, shard.Owns(evt.DocumentKey))
			seen[evt.DocumentID]++
		}
	}
	require.NotNil(t, start)
	assert.Len(t, seen, len(ids))
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %s delivered to more than one shard", id)
	}
}

func TestLog_OmitsPreImageUnlessRequested(t *testing.T) {
	log := NewLog()
	sub, err := log.Subscribe(context.Background(), source.Request{Collection: "articles", Shard: partition.Unsharded})
	require.NoError(t, err)

	log.Append(&events.ChangeEvent{
		Collection:         "articles",
		Operation:          events.OperationDelete,
		DocumentKey:        "a1",
		FullDocumentBefore: events.Document{"tagList": []any{"js"}},
	})
	assert.Nil(t, nextWithin(t, sub).FullDocumentBefore)
}

func TestLog_InjectedFailures(t *testing.T) {
	log := NewLog()
	boom := errors.New("connection reset")

	log.FailSubscribe(boom)
	_, err := log.Subscribe(context.Background(), source.Request{Collection: "users", Shard: partition.Unsharded})
	assert.ErrorIs(t, err, boom)
	log.FailSubscribe(nil)

	sub, err := log.Subscribe(context.Background(), source.Request{Collection: "users", Shard: partition.Unsharded})
	require.NoError(t, err)
	assert.Equal(t, 1, log.Subscribes("users"))

	log.FailNext("users", boom)
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestLog_NextHonorsCancellationAndClose(t *testing.T) {
	log := NewLog()
	sub, err := log.Subscribe(context.Background(), source.Request{Collection: "users", Shard: partition.Unsharded})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, sub.Close(context.Background()))
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, source.ErrSubscriptionClosed)
}

func TestLog_RejectsInvalidShard(t *testing.T) {
	_, err := NewLog().Subscribe(context.Background(), source.Request{Collection: "users", Shard: partition.Shard{Index: 2, Count: 2}})
	assert.ErrorIs(t, err, partition.ErrInvalidShard)
}
