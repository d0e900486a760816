package models

import "strings"

type RowKind string

const (
	RowKeyValue RowKind = "key_value"
	RowTest     RowKind = "test"
	RowSection  RowKind = "section"
)

// Key namespaces carried by key/value rows.
const (
	NamespaceLab     = "lab"
	NamespacePatient = "patient"
)

// Row is one entry of the confirmation form. Section rows are display-only
// boundaries; key/value rows carry a dotted namespace in Key; test rows use
// Name, Value, Unit and ReferenceRange.
type Row struct {
	ID             string  `json:"id"`
	Kind           RowKind `json:"kind"`
	Title          string  `json:"title,omitempty"`
	Key            string  `json:"key,omitempty"`
	Name           string  `json:"name,omitempty"`
	Value          string  `json:"value"`
	Unit           string  `json:"unit,omitempty"`
	ReferenceRange *string `json:"reference_range,omitempty"`
}

// SplitKey separates a namespaced key such as "lab.name". Keys without a known
// namespace return an empty namespace.
func SplitKey(key string) (namespace, name string) {
	for _, ns := range []string{NamespaceLab, NamespacePatient} {
		if strings.HasPrefix(key, ns+".") {
			return ns, strings.TrimPrefix(key, ns+".")
		}
	}
	return "", key
}

// JoinKey prefixes name with namespace; an empty namespace returns name unchanged.
func JoinKey(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// DisplayKey is the label shown for a key/value row.
func (r Row) DisplayKey() string {
	_, name := SplitKey(r.Key)
	return strings.ReplaceAll(name, "_", " ")
}

// TestResult is one confirmed test entry. Value holds a float64 when numeric
// values are enforced, otherwise the trimmed string.
type TestResult struct {
	TestName       string      `json:"test_name"`
	Value          interface{} `json:"value"`
	Unit           string      `json:"unit"`
	ReferenceRange *string     `json:"reference_range"`
}

type ConfirmedData struct {
	Lab     map[string]string `json:"lab"`
	Patient map[string]string `json:"patient"`
	Tests   []TestResult      `json:"tests"`
}

// ConfirmedSubmission is the body of POST /analysis/analyze.
type ConfirmedSubmission struct {
	ReportID      string        `json:"report_id"`
	ConfirmedData ConfirmedData `json:"confirmed_data"`
}
