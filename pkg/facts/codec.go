package facts

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a validated document.
func Encode(d *Document) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding facts document: %w", err)
	}
	return b, nil
}

// Decode parses and validates a document. Empty input is the empty document,
// so a store that has never been written reads as a fresh document.
func Decode(data []byte) (*Document, error) {
	if len(data) == 0 {
		return NewDocument(), nil
	}

	d := &Document{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, CorruptDocumentError{Err: fmt.Errorf("decoding facts document: %w", err)}
	}
	if d.Core.Items == nil {
		d.Core.Items = []CoreItem{}
	}
	if d.Diff.Items == nil {
		d.Diff.Items = []DiffItem{}
	}
	if err := d.Validate(); err != nil {
		return nil, CorruptDocumentError{Err: err}
	}
	return d, nil
}
