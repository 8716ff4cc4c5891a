package propagate

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/propagator/internal/derived"
	"github.com/syntrixbase/propagator/internal/events"
)

func touched(fields ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func articleEvent(op events.OperationType, id string, before, after []string) *events.ChangeEvent {
	evt := &events.ChangeEvent{
		Collection:  ArticlesCollection,
		Operation:   op,
		DocumentKey: id,
		DocumentID:  id,
	}
	if before != nil {
		evt.FullDocumentBefore = events.Document{"_id": id, "tagList": toAny(before)}
	}
	if after != nil {
		evt.FullDocumentAfter = events.Document{"_id": id, "tagList": toAny(after)}
	}
	if op == events.OperationUpdate {
		evt.UpdatedFields = touched("tagList")
	}
	return evt
}

func toAny(tags []string) []any {
	out := make([]any, len(tags))
	for i, t := range tags {
		out[i] = t
	}
	return out
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{nil, false},
		{"", false},
		{"x", true},
		{false, false},
		{true, true},
		{0, false},
		{int32(0), false},
		{int64(3), true},
		{0.0, false},
		{math.NaN(), false},
		{1.5, true},
		{[]any{}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truthy(tt.v), "%#v", tt.v)
	}
}

func TestBindings(t *testing.T) {
	bindings := Bindings(derived.NewMemoryStore(), nil)
	require.Len(t, bindings, 3)

	byColl := map[string]Binding{}
	for _, b := range bindings {
		byColl[b.Collection] = b
	}
	assert.False(t, byColl[UsersCollection].PreImage)
	assert.True(t, byColl[ArticlesCollection].PreImage)
	assert.True(t, byColl[FavoritesCollection].PreImage)
	assert.IsType(t, &UserProfile{}, byColl[UsersCollection].Handler)
	assert.IsType(t, &TagList{}, byColl[ArticlesCollection].Handler)
	assert.IsType(t, &Favorites{}, byColl[FavoritesCollection].Handler)
}

func TestHandlerFunc(t *testing.T) {
	called := false
	h := HandlerFunc(func(context.Context, *events.ChangeEvent) error {
		called = true
		return nil
	})
	require.NoError(t, h.Handle(context.Background(), &events.ChangeEvent{}))
	assert.True(t, called)
}

type mockTagCounter struct {
	mock.Mock
}

func (m *mockTagCounter) AddTag(ctx context.Context, tag, articleID string) error {
	return m.Called(ctx, tag, articleID).Error(0)
}

func (m *mockTagCounter) RemoveTag(ctx context.Context, tag, articleID string) error {
	return m.Called(ctx, tag, articleID).Error(0)
}

func TestTagList_StopsOnWriteError(t *testing.T) {
	counter := new(mockTagCounter)
	boom := errors.New("write failed")
	counter.On("AddTag", mock.Anything, "a", "a1").Return(boom).Once()

	h := NewTagList(counter, nil)
	err := h.Handle(context.Background(), articleEvent(events.OperationInsert, "a1", nil, []string{"b", "a"}))
	assert.ErrorIs(t, err, boom)
	counter.AssertExpectations(t)
	counter.AssertNotCalled(t, "AddTag", mock.Anything, "b", "a1")
}

func TestTagList_MissingImages(t *testing.T) {
	h := NewTagList(derived.NewMemoryStore(), nil)
	ctx := context.Background()

	evt := articleEvent(events.OperationUpdate, "a1", nil, []string{"x"})
	assert.ErrorIs(t, h.Handle(ctx, evt), ErrMissingImage)

	evt = articleEvent(events.OperationDelete, "a1", nil, nil)
	assert.ErrorIs(t, h.Handle(ctx, evt), ErrMissingImage)

	evt = articleEvent(events.OperationInsert, "a1", nil, nil)
	assert.ErrorIs(t, h.Handle(ctx, evt), ErrMissingImage)
}

func TestDiffTags(t *testing.T) {
	added, removed := diffTags([]string{"tech", "js", "js"}, []string{"js", "node", "mongodb", ""})
	assert.Equal(t, []string{"mongodb", "node"}, added)
	assert.Equal(t, []string{"tech"}, removed)

	added, removed = diffTags(nil, nil)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}
