// Package submission defines the incident report unit of work that flows
// from the intake surfaces through the queue to the remote webhook.
package submission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
)

// Value is a field value: either a string or a number.
type Value struct {
	kind valueKind
	str  string
	num  float64
}

// String returns a string Value.
func String(s string) Value { return Value{kind: kindString, str: s} }

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: kindNumber, num: f} }

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool { return v.kind == kindNumber }

// Float returns the numeric value, or 0 for string values.
func (v Value) Float() float64 { return v.num }

// Text renders the value as it would appear in a form field.
func (v Value) Text() string {
	if v.kind == kindNumber {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.str
}

// IsBlank reports whether v is an empty string.
func (v Value) IsBlank() bool { return v.kind == kindString && v.str == "" }

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == kindNumber {
		return json.Marshal(v.num)
	}
	return json.Marshal(v.str)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*v = String("")
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("field value must be a string or number: %w", err)
	}
	*v = Number(f)
	return nil
}

// Field is one labelled form value. Labels are the exact keys the remote
// endpoint expects.
type Field struct {
	Label string `json:"label"`
	Value Value  `json:"value"`
}

// Submission is one user-filled incident report plus optional attachment.
// ID is zero until the queue store assigns one.
type Submission struct {
	ID         int64
	Fields     []Field
	Attachment *Attachment
	CreatedAt  time.Time
}

// New builds an unpersisted submission. The field slice is copied.
func New(fields []Field, attachment *Attachment) Submission {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return Submission{
		Fields:     cp,
		Attachment: attachment,
		CreatedAt:  time.Now().UTC(),
	}
}

// Get returns the value stored under label.
func (s Submission) Get(label string) (Value, bool) {
	for _, f := range s.Fields {
		if f.Label == label {
			return f.Value, true
		}
	}
	return Value{}, false
}

// WithID returns a copy of s carrying the given store identifier.
func (s Submission) WithID(id int64) Submission {
	s.ID = id
	return s
}

// Persisted reports whether the submission has been assigned a store id.
func (s Submission) Persisted() bool { return s.ID > 0 }
