package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// connection is the paged list shape returned by the remote API.
type connection struct {
	Items     []RawCustomer `json:"items"`
	NextToken *string       `json:"nextToken"`
}

// ReadRawFile reads customers from a JSON export file.
// The file holds either a JSON array of customers or a connection object
// with an "items" array.
func ReadRawFile(path string) ([]RawCustomer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read customers file %s: %w", path, err)
	}

	customers, err := DecodeRaw(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse customers file %s: %w", path, err)
	}
	return customers, nil
}

// DecodeRaw decodes a JSON array of customers or a connection object.
func DecodeRaw(data []byte) ([]RawCustomer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []RawCustomer{}, nil
	}

	if trimmed[0] == '[' {
		var customers []RawCustomer
		if err := json.Unmarshal(trimmed, &customers); err != nil {
			return nil, err
		}
		return customers, nil
	}

	var conn connection
	if err := json.Unmarshal(trimmed, &conn); err != nil {
		return nil, err
	}
	if conn.Items == nil {
		return []RawCustomer{}, nil
	}
	return conn.Items, nil
}

// WriteCustomersFile writes customers to path as a pretty-printed JSON array
// readable by ReadRawFile. The parent directory is created if needed.
func WriteCustomersFile(path string, customers []Customer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	if customers == nil {
		customers = []Customer{}
	}
	data, err := json.MarshalIndent(customers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal customers: %w", err)
	}

	// Write to a temp file first so a watcher never sees a partial export.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write customers file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move customers file into place: %w", err)
	}

	return nil
}
