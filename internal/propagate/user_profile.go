package propagate

import (
	"context"
	"log/slog"

	"github.com/syntrixbase/propagator/internal/events"
)

// authorFields maps user profile fields to their copies on authored documents.
var authorFields = []struct{ source, target string }{
	{"username", "authorUsername"},
	{"image", "authorImage"},
	{"bio", "authorBio"},
}

// UserProfile copies changed profile fields of a user onto every article and
// comment the user wrote.
type UserProfile struct {
	writer AuthorWriter
	logger *slog.Logger
}

func NewUserProfile(writer AuthorWriter, logger *slog.Logger) *UserProfile {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserProfile{writer: writer, logger: logger.With("handler", "user_profile")}
}

func (h *UserProfile) Handle(ctx context.Context, evt *events.ChangeEvent) error {
	if evt.Operation != events.OperationUpdate {
		return nil
	}
	fields := make(map[string]any, len(authorFields))
	for _, f := range authorFields {
		if !evt.Touched(f.source) {
			continue
		}
		if v := evt.FullDocumentAfter[f.source]; truthy(v) {
			fields[f.target] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}

	h.logger.Debug("Propagating author fields", "user", evt.DocumentID, "fields", len(fields))
	return h.writer.SetAuthorFields(ctx, evt.DocumentKey, fields)
}
