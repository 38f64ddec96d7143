package dbx

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON adapts a pointer to a value for a JSON/JSONB column. A nil pointer
// is stored as SQL NULL and NULL scans back into a nil pointer.
//
//	var sealed *envelope.Sealed
//	row.Scan(dbx.JSONScan(&sealed))
type JSON[T any] struct {
	V *T
}

// JSONOf wraps v for use as a query argument.
func JSONOf[T any](v *T) JSON[T] {
	return JSON[T]{V: v}
}

// Value implements driver.Valuer.
func (j JSON[T]) Value() (driver.Value, error) {
	if j.V == nil {
		return nil, nil
	}
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONScanner decodes a JSON column into a pointer destination.
type JSONScanner[T any] struct {
	dst **T
}

// JSONScan returns a sql.Scanner that decodes a JSON column into *dst.
func JSONScan[T any](dst **T) *JSONScanner[T] {
	return &JSONScanner[T]{dst: dst}
}

// Scan implements sql.Scanner.
func (s *JSONScanner[T]) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s.dst = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode JSON column: %w", err)
	}
	*s.dst = out
	return nil
}
