package operations

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpType represents the type of operation
type OpType string

const (
	OpInsert OpType = "insert" // Insert text at position
	OpDelete OpType = "delete" // Delete a span at position
	OpRetain OpType = "retain" // Skip over a span (for composition)
	OpFormat OpType = "format" // Style-only change over a range
)

// Operation represents a text editing operation in OT.
// Every operation carries the author that issued it, the moment it was
// issued, and the document version it was generated against. Positions are
// always expressed in the coordinate space of the text before the operation
// is applied.
//
// Operations can be transformed against each other for conflict resolution.
type Operation struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`

	Type     OpType `json:"type"`
	Position int    `json:"position"`

	// Content is the inserted text (insert only).
	Content string `json:"content,omitempty"`

	// Length is the affected span (delete and retain).
	Length int `json:"length,omitempty"`

	// EndPosition, FormatType and FormatValue describe a style range
	// (format only). Format never changes text length.
	EndPosition int    `json:"end_position,omitempty"`
	FormatType  string `json:"format_type,omitempty"`
	FormatValue string `json:"format_value,omitempty"`

	// Attributes is an optional style map carried by insert and retain.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewInsert creates a new insert operation.
func NewInsert(author string, version, position int, content string, ts time.Time) *Operation {
	return &Operation{
		ID:        uuid.NewString(),
		Author:    author,
		Timestamp: ts,
		Version:   version,
		Type:      OpInsert,
		Position:  position,
		Content:   content,
	}
}

// NewDelete creates a new delete operation.
func NewDelete(author string, version, position, length int, ts time.Time) *Operation {
	return &Operation{
		ID:        uuid.NewString(),
		Author:    author,
		Timestamp: ts,
		Version:   version,
		Type:      OpDelete,
		Position:  position,
		Length:    length,
	}
}

// NewRetain creates a new retain operation.
func NewRetain(author string, version, length int, ts time.Time) *Operation {
	return &Operation{
		ID:        uuid.NewString(),
		Author:    author,
		Timestamp: ts,
		Version:   version,
		Type:      OpRetain,
		Length:    length,
	}
}

// NewFormat creates a new format operation over [position, endPosition).
func NewFormat(author string, version, position, endPosition int, formatType, formatValue string, ts time.Time) *Operation {
	return &Operation{
		ID:          uuid.NewString(),
		Author:      author,
		Timestamp:   ts,
		Version:     version,
		Type:        OpFormat,
		Position:    position,
		EndPosition: endPosition,
		FormatType:  formatType,
		FormatValue: formatValue,
	}
}

// String returns a human-readable representation of the operation.
func (op *Operation) String() string {
	switch op.Type {
	case OpInsert:
		return fmt.Sprintf("Insert(%q at %d, v%d, by %s)", op.Content, op.Position, op.Version, op.Author)
	case OpDelete:
		return fmt.Sprintf("Delete(%d chars at %d, v%d, by %s)", op.Length, op.Position, op.Version, op.Author)
	case OpRetain:
		return fmt.Sprintf("Retain(%d chars, v%d)", op.Length, op.Version)
	case OpFormat:
		return fmt.Sprintf("Format(%s=%s over [%d,%d), v%d)", op.FormatType, op.FormatValue, op.Position, op.EndPosition, op.Version)
	default:
		return "Unknown operation"
	}
}

// Clone returns a deep copy of the operation.
func (op *Operation) Clone() *Operation {
	dup := *op
	if op.Attributes != nil {
		dup.Attributes = make(map[string]string, len(op.Attributes))
		for k, v := range op.Attributes {
			dup.Attributes[k] = v
		}
	}
	return &dup
}

// ToJSON converts the operation to JSON.
func (op *Operation) ToJSON() (string, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return "", fmt.Errorf("failed to marshal operation: %w", err)
	}
	return string(data), nil
}

// FromJSON creates an operation from JSON.
func FromJSON(jsonStr string) (*Operation, error) {
	var op Operation
	if err := json.Unmarshal([]byte(jsonStr), &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation: %w", err)
	}
	return &op, nil
}

// Validate checks if an issued operation is well-formed. Transformation may
// later reduce an operation to a no-op (empty insert, zero-length delete);
// such residue is accepted by Apply but is not valid as an issued operation.
func (op *Operation) Validate() error {
	if op.Position < 0 {
		return fmt.Errorf("%w: position %d (must be >= 0)", ErrInvalidOperation, op.Position)
	}
	if op.Version < 0 {
		return fmt.Errorf("%w: version %d (must be >= 0)", ErrInvalidOperation, op.Version)
	}

	switch op.Type {
	case OpInsert:
		if op.Content == "" {
			return fmt.Errorf("%w: insert must have non-empty content", ErrInvalidOperation)
		}
	case OpDelete:
		if op.Length <= 0 {
			return fmt.Errorf("%w: delete length %d (must be > 0)", ErrInvalidOperation, op.Length)
		}
	case OpRetain:
		if op.Length < 0 {
			return fmt.Errorf("%w: retain length %d (must be >= 0)", ErrInvalidOperation, op.Length)
		}
	case OpFormat:
		if op.EndPosition < op.Position {
			return fmt.Errorf("%w: format range [%d,%d) is inverted", ErrInvalidOperation, op.Position, op.EndPosition)
		}
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidOperation, op.Type)
	}

	return nil
}

// Span returns the number of characters affected by this operation.
func (op *Operation) Span() int {
	switch op.Type {
	case OpInsert:
		return len(op.Content)
	case OpDelete, OpRetain:
		return op.Length
	case OpFormat:
		return op.EndPosition - op.Position
	default:
		return 0
	}
}

// IsNoop reports whether the operation has been reduced to nothing by
// transformation. Retain and format are text no-ops by definition but are
// still meaningful operations, so they are not reported here.
func (op *Operation) IsNoop() bool {
	switch op.Type {
	case OpInsert:
		return op.Content == ""
	case OpDelete:
		return op.Length <= 0
	default:
		return false
	}
}
