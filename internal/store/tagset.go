package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// TagSet is a small string slice persisted as a JSON text column — used for
// capability tags, skill lists, argv, and similar small ordered sets.
type TagSet []string

// Value implements driver.Valuer.
func (t TagSet) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, fmt.Errorf("marshaling TagSet: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *TagSet) Scan(src interface{}) error {
	if src == nil {
		*t = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("TagSet.Scan: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*t = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshaling TagSet: %w", err)
	}
	*t = out
	return nil
}
