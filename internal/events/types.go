// Package events defines the change event model consumed by stream runners.
// Handlers only ever see these types, never driver-specific change documents.
package events

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OperationType represents the type of change operation.
// All values are lowercase to match MongoDB change stream semantics.
type OperationType string

const (
	OperationInsert OperationType = "insert"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// IsValid checks if the operation type is a known valid type.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// Position is an opaque, totally ordered token identifying an event's place
// in the log. It is stored verbatim and never parsed.
type Position []byte

// IsZero reports whether the position is unset.
func (p Position) IsZero() bool {
	return len(p) == 0
}

// Fingerprint returns a short stable digest of the position, suitable for
// log lines where the raw token would be noise.
func (p Position) Fingerprint() string {
	if p.IsZero() {
		return ""
	}
	hash := blake3.Sum256(p)
	return hex.EncodeToString(hash[:6])
}

// Clone returns a copy that does not alias the original buffer.
func (p Position) Clone() Position {
	if p == nil {
		return nil
	}
	return append(Position(nil), p...)
}

// Document is a decoded document image.
type Document map[string]any

// String returns the field as a string, or "" when absent or not a string.
func (d Document) String(field string) string {
	if d == nil {
		return ""
	}
	s, _ := d[field].(string)
	return s
}

// Strings returns the field as a string slice. Non-string elements are skipped.
func (d Document) Strings(field string) []string {
	if d == nil {
		return nil
	}
	var items []any
	switch v := d[field].(type) {
	case []string:
		return append([]string(nil), v...)
	case primitive.A:
		items = v
	case []any:
		items = v
	default:
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ChangeEvent represents one mutation observed on a watched collection.
type ChangeEvent struct {
	Collection string
	Operation  OperationType

	// DocumentKey is the raw _id value of the affected document. It is used
	// verbatim in derived-write filters so ObjectIDs keep their BSON type.
	DocumentKey any
	// DocumentID is the stable string form of DocumentKey.
	DocumentID string

	// FullDocumentAfter is the post-mutation image, when available.
	FullDocumentAfter Document
	// FullDocumentBefore is the pre-mutation image, only for update and
	// delete on streams that request pre-images.
	FullDocumentBefore Document
	// UpdatedFields holds the top-level field names touched by an update.
	UpdatedFields map[string]struct{}

	Position Position
}

// Touched reports whether any of the given top-level fields was updated.
func (e *ChangeEvent) Touched(fields ...string) bool {
	for _, f := range fields {
		if _, ok := e.UpdatedFields[f]; ok {
			return true
		}
	}
	return false
}

// FormatID formats a document _id value as a stable string.
func FormatID(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
