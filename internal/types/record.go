// Package types contains the record model shared by the stores, the crawler and the viewer.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
)

// Field names of the fixed result header, in column order.
const (
	FieldFullName      = "Full_Name"
	FieldLicenseType   = "License_Type"
	FieldLicenseNumber = "License_Number"
	FieldStatus        = "Status"
	FieldProfessional  = "Professional"
	FieldIssued        = "Issued"
	FieldExpired       = "Expired"
)

// Header is the column order of every persisted record.
var Header = []string{
	FieldFullName,
	FieldLicenseType,
	FieldLicenseNumber,
	FieldStatus,
	FieldProfessional,
	FieldIssued,
	FieldExpired,
}

// Record is a flat tuple of field values aligned with a header.
// Two records are the same record iff every value is equal.
type Record []string

// NewRecord builds a Record in Header order from named fields.
// Unknown names are ignored and missing names become empty values.
func NewRecord(fields map[string]string) Record {
	r := make(Record, len(Header))
	for i, name := range Header {
		r[i] = fields[name]
	}
	return r
}

// Key returns the identity of the record: the full tuple of values, each
// length-prefixed so no field content can shift a field boundary.
func (r Record) Key() string {
	var b strings.Builder
	for _, v := range r {
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteByte(':')
		b.WriteString(v)
	}
	return b.String()
}

// Equal reports whether both records carry the same tuple.
func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// Get returns the value of the named field, or "" if the header lacks it.
func (r Record) Get(header []string, name string) string {
	for i, h := range header {
		if h == name && i < len(r) {
			return r[i]
		}
	}
	return ""
}

// Validate checks that the record has one value per header column.
func (r Record) Validate(header []string) error {
	if len(r) != len(header) {
		return fmt.Errorf("record has %d fields, header has %d", len(r), len(header))
	}
	return nil
}

// Row is a record rendered as an ordered field-name/value mapping.
// It marshals to a JSON object whose keys keep header order.
type Row struct {
	fields *orderedmap.OrderedMap[string, string]
}

// NewRow pairs header names with record values.
func NewRow(header []string, r Record) Row {
	m := orderedmap.NewOrderedMap[string, string]()
	for i, name := range header {
		var v string
		if i < len(r) {
			v = r[i]
		}
		m.Set(name, v)
	}
	return Row{fields: m}
}

// Rows converts records to rows with a shared header.
func Rows(header []string, records []Record) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, NewRow(header, r))
	}
	return rows
}

// Get returns the value stored under name.
func (r Row) Get(name string) (string, bool) {
	if r.fields == nil {
		return "", false
	}
	return r.fields.Get(name)
}

// Keys returns the field names in order.
func (r Row) Keys() []string {
	if r.fields == nil {
		return nil
	}
	return r.fields.Keys()
}

// MarshalJSON implements json.Marshaler preserving field order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r.fields != nil {
		first := true
		for el := r.fields.Front(); el != nil; el = el.Next() {
			if !first {
				buf.WriteByte(',')
			}
			first = false

			k, err := json.Marshal(el.Key)
			if err != nil {
				return nil, err
			}
			v, err := json.Marshal(el.Value)
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
