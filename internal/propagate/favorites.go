package propagate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/propagator/internal/events"
)

const articleIDField = "articleId"

// Favorites keeps the favorites counter of articles in line with the
// favorites collection. Favorites are immutable, so updates are ignored.
type Favorites struct {
	counter FavoriteCounter
	logger  *slog.Logger
}

func NewFavorites(counter FavoriteCounter, logger *slog.Logger) *Favorites {
	if logger == nil {
		logger = slog.Default()
	}
	return &Favorites{counter: counter, logger: logger.With("handler", "favorites")}
}

func (h *Favorites) Handle(ctx context.Context, evt *events.ChangeEvent) error {
	var (
		articleID any
		adjust    func(context.Context, any, string) (bool, error)
	)
	switch evt.Operation {
	case events.OperationInsert:
		if evt.FullDocumentAfter == nil {
			return fmt.Errorf("favorite %s insert: %w", evt.DocumentID, ErrMissingImage)
		}
		articleID = evt.FullDocumentAfter[articleIDField]
		adjust = h.counter.AddFavorite
	case events.OperationDelete:
		if evt.FullDocumentBefore == nil {
			return fmt.Errorf("favorite %s delete: %w", evt.DocumentID, ErrMissingImage)
		}
		articleID = evt.FullDocumentBefore[articleIDField]
		adjust = h.counter.RemoveFavorite
	default:
		return nil
	}
	if articleID == nil {
		h.logger.Debug("Favorite without article id", "favorite", evt.DocumentID, "operation", evt.Operation)
		return nil
	}

	changed, err := adjust(ctx, articleID, evt.DocumentID)
	if err != nil {
		return err
	}
	if !changed {
		h.logger.Debug("Favorite counter unchanged",
			"favorite", evt.DocumentID,
			"article", events.FormatID(articleID),
			"operation", evt.Operation)
	}
	return nil
}
