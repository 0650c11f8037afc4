package listing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NewRecordOwnerKey scopes uploads made for a draft that has no id yet.
const NewRecordOwnerKey = "temp"

// Draft is the working copy behind an open create/edit form. Inputs hold raw
// form strings keyed by field name; parsing happens in Values.
type Draft struct {
	ID     string
	Inputs map[string]string
	Images []string
}

// NewDraft returns a blank draft for schema.
func NewDraft(schema Schema) *Draft {
	inputs := make(map[string]string, len(schema.Fields))
	for _, f := range schema.Fields {
		inputs[f.Name] = ""
	}
	return &Draft{Inputs: inputs}
}

// DraftFrom returns a draft pre-filled from a stored record.
func DraftFrom(schema Schema, rec Record) *Draft {
	d := NewDraft(schema)
	d.ID = rec.ID
	for _, f := range schema.Fields {
		switch f.Type {
		case FieldText:
			d.Inputs[f.Name] = rec.Text[f.Name]
		case FieldNumber:
			if n, ok := rec.Numbers[f.Name]; ok {
				d.Inputs[f.Name] = strconv.FormatFloat(n, 'f', -1, 64)
			}
		}
	}
	d.Images = append([]string(nil), rec.Images...)
	return d
}

// IsNew reports whether the draft has not been persisted yet.
func (d *Draft) IsNew() bool { return d.ID == "" }

// OwnerKey is the storage owner segment for images attached to this draft.
func (d *Draft) OwnerKey() string {
	if d.IsNew() {
		return NewRecordOwnerKey
	}
	return d.ID
}

// Set stores a raw input value.
func (d *Draft) Set(field, value string) {
	if d.Inputs == nil {
		d.Inputs = make(map[string]string)
	}
	d.Inputs[field] = value
}

// Clone returns a deep copy of d.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	return &Draft{ID: d.ID, Inputs: cloneText(d.Inputs), Images: append([]string(nil), d.Images...)}
}

// FieldError describes one rejected input.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when a draft cannot be turned into Values.
// No collaborator call is made for a draft that fails validation.
type ValidationError struct {
	Kind   Kind         `json:"kind"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Kind, strings.Join(parts, "; "))
}

// Message returns the error for a given field, if any.
func (e *ValidationError) Message(field string) (string, bool) {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Message, true
		}
	}
	return "", false
}

// Values validates the draft against schema and returns typed values.
func (d *Draft) Values(schema Schema) (Values, error) {
	v := Values{Text: map[string]string{}, Numbers: map[string]float64{}}
	var errs []FieldError
	for _, f := range schema.Fields {
		raw := strings.TrimSpace(d.Inputs[f.Name])
		switch f.Type {
		case FieldText:
			if raw == "" && f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
				continue
			}
			v.Text[f.Name] = raw
		case FieldNumber:
			if raw == "" {
				if f.Required {
					errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
				}
				continue
			}
			n, err := ParseNumber(raw)
			if err != nil {
				errs = append(errs, FieldError{Field: f.Name, Message: err.Error()})
				continue
			}
			v.Numbers[f.Name] = n
		}
	}
	if len(errs) > 0 {
		return Values{}, &ValidationError{Kind: schema.Kind, Fields: errs}
	}
	return v, nil
}

// ParseNumber parses a numeric form input. Thousands separators are accepted;
// NaN and infinities are not.
func ParseNumber(raw string) (float64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("must be a number")
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("must be a finite number")
	}
	return n, nil
}
