package mongo

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/syntrixbase/propagator/internal/events"
)

// rawEvent is a change stream document before normalization.
type rawEvent struct {
	ResumeToken              bson.Raw `bson:"_id"`
	OperationType            string   `bson:"operationType"`
	DocumentKey              bson.M   `bson:"documentKey"`
	FullDocument             bson.M   `bson:"fullDocument,omitempty"`
	FullDocumentBeforeChange bson.M   `bson:"fullDocumentBeforeChange,omitempty"`
	UpdateDescription        *struct {
		UpdatedFields bson.M   `bson:"updatedFields"`
		RemovedFields []string `bson:"removedFields"`
	} `bson:"updateDescription,omitempty"`
}

// normalize converts a raw change document into a ChangeEvent.
func normalize(collection string, raw *rawEvent) (*events.ChangeEvent, error) {
	if len(raw.ResumeToken) == 0 {
		return nil, fmt.Errorf("change event without resume token")
	}
	key, ok := raw.DocumentKey["_id"]
	if !ok {
		return nil, fmt.Errorf("documentKey has no _id")
	}

	evt := &events.ChangeEvent{
		Collection:  collection,
		DocumentKey: key,
		DocumentID:  events.FormatID(key),
		Position:    events.Position(raw.ResumeToken).Clone(),
	}
	if raw.FullDocument != nil {
		evt.FullDocumentAfter = events.Document(raw.FullDocument)
	}
	if raw.FullDocumentBeforeChange != nil {
		evt.FullDocumentBefore = events.Document(raw.FullDocumentBeforeChange)
	}

	switch raw.OperationType {
	case "insert":
		evt.Operation = events.OperationInsert
	case "delete":
		evt.Operation = events.OperationDelete
	case "update":
		evt.Operation = events.OperationUpdate
		evt.UpdatedFields = make(map[string]struct{})
		if d := raw.UpdateDescription; d != nil {
			for path := range d.UpdatedFields {
				evt.UpdatedFields[topLevel(path)] = struct{}{}
			}
			for _, path := range d.RemovedFields {
				evt.UpdatedFields[topLevel(path)] = struct{}{}
			}
		}
	case "replace":
		// A replace rewrites the whole document.
		evt.Operation = events.OperationUpdate
		evt.UpdatedFields = make(map[string]struct{})
		for field := range raw.FullDocument {
			if field != "_id" {
				evt.UpdatedFields[field] = struct{}{}
			}
		}
		if raw.FullDocumentBeforeChange != nil {
			for field := range raw.FullDocumentBeforeChange {
				if field != "_id" {
					evt.UpdatedFields[field] = struct{}{}
				}
			}
		}
	default:
		return nil, fmt.Errorf("unknown operation type: %s", raw.OperationType)
	}

	return evt, nil
}

// topLevel trims a dotted update path ("tagList.2") to its top-level field.
func topLevel(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}
