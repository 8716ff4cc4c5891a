package propagate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/syntrixbase/propagator/internal/events"
)

const tagListField = "tagList"

// TagList keeps tag article counters in line with the tag lists of articles.
type TagList struct {
	counter TagCounter
	logger  *slog.Logger
}

func NewTagList(counter TagCounter, logger *slog.Logger) *TagList {
	if logger == nil {
		logger = slog.Default()
	}
	return &TagList{counter: counter, logger: logger.With("handler", "tag_list")}
}

func (h *TagList) Handle(ctx context.Context, evt *events.ChangeEvent) error {
	var before, after []string
	switch evt.Operation {
	case events.OperationInsert:
		if evt.FullDocumentAfter == nil {
			return fmt.Errorf("article %s insert: %w", evt.DocumentID, ErrMissingImage)
		}
		after = evt.FullDocumentAfter.Strings(tagListField)
	case events.OperationDelete:
		if evt.FullDocumentBefore == nil {
			return fmt.Errorf("article %s delete: %w", evt.DocumentID, ErrMissingImage)
		}
		before = evt.FullDocumentBefore.Strings(tagListField)
	case events.OperationUpdate:
		if !evt.Touched(tagListField) {
			return nil
		}
		if evt.FullDocumentBefore == nil || evt.FullDocumentAfter == nil {
			return fmt.Errorf("article %s update: %w", evt.DocumentID, ErrMissingImage)
		}
		before = evt.FullDocumentBefore.Strings(tagListField)
		after = evt.FullDocumentAfter.Strings(tagListField)
	default:
		return nil
	}

	added, removed := diffTags(before, after)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	h.logger.Debug("Adjusting tag counters", "article", evt.DocumentID, "added", added, "removed", removed)

	for _, tag := range added {
		if err := h.counter.AddTag(ctx, tag, evt.DocumentID); err != nil {
			return err
		}
	}
	for _, tag := range removed {
		if err := h.counter.RemoveTag(ctx, tag, evt.DocumentID); err != nil {
			return err
		}
	}
	return nil
}

// diffTags returns the sorted tags only in after and only in before.
func diffTags(before, after []string) (added, removed []string) {
	old := toSet(before)
	cur := toSet(after)
	for tag := range cur {
		if _, ok := old[tag]; !ok {
			added = append(added, tag)
		}
	}
	for tag := range old {
		if _, ok := cur[tag]; !ok {
			removed = append(removed, tag)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

func toSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}
