package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Field is one key/value pair of an extraction, kept in document order.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TestRecord is a single lab test as produced by the extraction service.
type TestRecord struct {
	TestName       string  `json:"test_name"`
	Value          string  `json:"value"`
	Unit           string  `json:"unit,omitempty"`
	ReferenceRange *string `json:"reference_range,omitempty"`
}

// RawExtraction is the unconfirmed field data attached to an uploaded report.
// Two wire shapes exist: a flat object of scalar fields, and a structured
// object with optional lab, patient and tests groups. Key order is preserved
// from the document.
type RawExtraction struct {
	Structured bool
	Flat       []Field

	HasLab     bool
	Lab        []Field
	HasPatient bool
	Patient    []Field
	HasTests   bool
	Tests      []TestRecord
}

// Empty reports whether the extraction carries no fields at all.
func (r RawExtraction) Empty() bool {
	if r.Structured {
		return len(r.Lab) == 0 && len(r.Patient) == 0 && len(r.Tests) == 0
	}
	return len(r.Flat) == 0
}

type rawField struct {
	Key   string
	Value json.RawMessage
}

type testRecordWire struct {
	TestName       json.RawMessage `json:"test_name"`
	Name           json.RawMessage `json:"name"`
	Value          json.RawMessage `json:"value"`
	Unit           json.RawMessage `json:"unit"`
	ReferenceRange json.RawMessage `json:"reference_range"`
}

func (r *RawExtraction) UnmarshalJSON(data []byte) error {
	*r = RawExtraction{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	fields, err := decodeOrderedObject(trimmed)
	if err != nil {
		return fmt.Errorf("raw extraction: %w", err)
	}

	if isStructured(fields) {
		r.Structured = true
		for _, f := range fields {
			switch f.Key {
			case "lab":
				r.HasLab = true
				if r.Lab, err = decodeScalarObject(f.Value); err != nil {
					return fmt.Errorf("raw extraction lab: %w", err)
				}
			case "patient":
				r.HasPatient = true
				if r.Patient, err = decodeScalarObject(f.Value); err != nil {
					return fmt.Errorf("raw extraction patient: %w", err)
				}
			case "tests":
				r.HasTests = true
				if r.Tests, err = decodeTests(f.Value); err != nil {
					return fmt.Errorf("raw extraction tests: %w", err)
				}
			}
		}
		return nil
	}

	r.Flat = make([]Field, 0, len(fields))
	for _, f := range fields {
		r.Flat = append(r.Flat, Field{Key: f.Key, Value: scalarString(f.Value)})
	}
	return nil
}

func (r RawExtraction) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if !r.Structured {
		writeFields(&buf, r.Flat)
		return buf.Bytes(), nil
	}

	buf.WriteByte('{')
	first := true
	sep := func() {
		if !first {
			buf.WriteByte(',')
		}
		first = false
	}
	if r.HasLab {
		sep()
		buf.WriteString(`"lab":`)
		writeFields(&buf, r.Lab)
	}
	if r.HasPatient {
		sep()
		buf.WriteString(`"patient":`)
		writeFields(&buf, r.Patient)
	}
	if r.HasTests {
		sep()
		buf.WriteString(`"tests":`)
		tests := r.Tests
		if tests == nil {
			tests = []TestRecord{}
		}
		encoded, err := json.Marshal(tests)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeFields(buf *bytes.Buffer, fields []Field) {
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.Key)
		value, _ := json.Marshal(f.Value)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
}

// isStructured detects the grouped shape: a lab or patient object, or a tests array.
func isStructured(fields []rawField) bool {
	for _, f := range fields {
		switch f.Key {
		case "lab", "patient":
			if firstByte(f.Value) == '{' {
				return true
			}
		case "tests":
			if firstByte(f.Value) == '[' {
				return true
			}
		}
	}
	return false
}

func decodeOrderedObject(data []byte) ([]rawField, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var out []rawField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		out = append(out, rawField{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeScalarObject(data json.RawMessage) ([]Field, error) {
	switch firstByte(data) {
	case 'n', 0:
		return nil, nil
	case '{':
	default:
		return nil, fmt.Errorf("expected object")
	}
	raw, err := decodeOrderedObject(data)
	if err != nil {
		return nil, err
	}
	out := make([]Field, 0, len(raw))
	for _, f := range raw {
		out = append(out, Field{Key: f.Key, Value: scalarString(f.Value)})
	}
	return out, nil
}

func decodeTests(data json.RawMessage) ([]TestRecord, error) {
	if b := firstByte(data); b == 'n' || b == 0 {
		return nil, nil
	}
	var wire []testRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	out := make([]TestRecord, 0, len(wire))
	for _, w := range wire {
		name := scalarString(w.TestName)
		if name == "" {
			name = scalarString(w.Name)
		}
		rec := TestRecord{
			TestName: name,
			Value:    scalarString(w.Value),
			Unit:     scalarString(w.Unit),
		}
		if rr := scalarString(w.ReferenceRange); rr != "" {
			rec.ReferenceRange = &rr
		}
		out = append(out, rec)
	}
	return out, nil
}

// scalarString renders a JSON value for display in an editable cell.
func scalarString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err == nil {
		return compact.String()
	}
	return string(trimmed)
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
