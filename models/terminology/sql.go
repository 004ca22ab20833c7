package terminology

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Value stores the parameter document as JSON.
func (p Parameters) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan reads a JSON parameter document.
func (p *Parameters) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Parameters{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported parameters column type %T", src)
	}

	params := Parameters{}
	if err := json.Unmarshal(data, &params); err != nil {
		return fmt.Errorf("failed to decode expansion parameters: %w", err)
	}
	*p = params
	return nil
}
