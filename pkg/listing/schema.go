// Package listing defines the listing entity kinds, their field schemas, the
// record and draft value types, and the table-store contract implemented by
// the persistence drivers.
package listing

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies a listing collection managed by the console.
type Kind string

// Supported listing kinds. Property kinds map onto `{kind}_properties` tables.
const (
	// KindPlot identifies land plots.
	KindPlot Kind = "plot"
	// KindResale identifies resale properties.
	KindResale Kind = "resale"
	// KindPrimary identifies primary-sale properties.
	KindPrimary Kind = "primary"
	// KindRental identifies rental properties.
	KindRental Kind = "rental"
)

// Label returns a human-readable label for the kind.
func (k Kind) Label() string {
	switch k {
	case KindPlot:
		return "Plots"
	case KindResale:
		return "Resale Properties"
	case KindPrimary:
		return "Primary Properties"
	case KindRental:
		return "Rental Properties"
	default:
		return string(k)
	}
}

// FieldType describes how a form input is parsed before it reaches a store.
type FieldType int

const (
	// FieldText is stored verbatim after trimming.
	FieldText FieldType = iota
	// FieldNumber must parse as a finite float64.
	FieldNumber
)

// Field describes a single editable column of a listing table.
type Field struct {
	Name     string
	Label    string
	Type     FieldType
	Required bool
}

// Schema is the entity-kind configuration every layer is parameterized by.
type Schema struct {
	Kind      Kind
	Title     string
	Table     string
	Namespace string
	Fields    []Field
}

// Reserved column names managed by the store rather than the form.
const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
	ColumnImages    = "images"
)

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var commonFields = []Field{
	{Name: "builder_name", Label: "Builder Name", Type: FieldText, Required: true},
	{Name: "project", Label: "Project", Type: FieldText, Required: true},
	{Name: "location", Label: "Location", Type: FieldText, Required: true},
}

// PlotSchema returns the schema for the plots table.
func PlotSchema() Schema {
	fields := append(append([]Field(nil), commonFields...),
		Field{Name: "size", Label: "Size (sq ft)", Type: FieldNumber, Required: true},
		Field{Name: "price_per_sqft", Label: "Price / sq ft", Type: FieldNumber, Required: true},
		Field{Name: "total_price", Label: "Total Price", Type: FieldNumber, Required: true},
	)
	return Schema{
		Kind:      KindPlot,
		Title:     KindPlot.Label(),
		Table:     "plots",
		Namespace: "plots",
		Fields:    fields,
	}
}

// PropertySchema returns the schema shared by the property categories.
func PropertySchema(kind Kind) Schema {
	fields := append(append([]Field(nil), commonFields...),
		Field{Name: "price", Label: "Price", Type: FieldNumber, Required: true},
		Field{Name: "size", Label: "Size (sq ft)", Type: FieldNumber},
	)
	return Schema{
		Kind:      kind,
		Title:     kind.Label(),
		Table:     string(kind) + "_properties",
		Namespace: "properties/" + string(kind),
		Fields:    fields,
	}
}

// Schemas returns every supported schema in display order.
func Schemas() []Schema {
	return []Schema{
		PlotSchema(),
		PropertySchema(KindResale),
		PropertySchema(KindPrimary),
		PropertySchema(KindRental),
	}
}

// Lookup resolves the schema for kind.
func Lookup(kind Kind) (Schema, bool) {
	for _, s := range Schemas() {
		if s.Kind == kind {
			return s, true
		}
	}
	return Schema{}, false
}

// ParseKind normalises s into a known Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Lookup(k); !ok {
		return "", fmt.Errorf("unknown listing kind %q", s)
	}
	return k, nil
}

// Field returns the field definition for name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Columns returns the field names of the given type in schema order.
func (s Schema) Columns(t FieldType) []string {
	var out []string
	for _, f := range s.Fields {
		if f.Type == t {
			out = append(out, f.Name)
		}
	}
	return out
}

// Validate checks the schema is safe to turn into SQL identifiers.
func (s Schema) Validate() error {
	if !identPattern.MatchString(s.Table) {
		return fmt.Errorf("schema %s: invalid table name %q", s.Kind, s.Table)
	}
	if strings.TrimSpace(s.Namespace) == "" {
		return fmt.Errorf("schema %s: empty image namespace", s.Kind)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if !identPattern.MatchString(f.Name) {
			return fmt.Errorf("schema %s: invalid column name %q", s.Kind, f.Name)
		}
		switch f.Name {
		case ColumnID, ColumnCreatedAt, ColumnImages:
			return fmt.Errorf("schema %s: column %q is reserved", s.Kind, f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema %s: duplicate column %q", s.Kind, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// CheckColumns verifies every key names a field of the matching type.
func (s Schema) CheckColumns(text map[string]string, numbers map[string]float64) error {
	for name := range text {
		if f, ok := s.Field(name); !ok || f.Type != FieldText {
			return fmt.Errorf("%s: unknown text column %q", s.Table, name)
		}
	}
	for name := range numbers {
		if f, ok := s.Field(name); !ok || f.Type != FieldNumber {
			return fmt.Errorf("%s: unknown numeric column %q", s.Table, name)
		}
	}
	return nil
}

// CheckPatch validates every column p names, including cleared ones. Required
// columns can never be cleared.
func (s Schema) CheckPatch(p Patch) error {
	if err := s.CheckColumns(p.Text, p.Numbers); err != nil {
		return err
	}
	for _, name := range p.Clear {
		f, ok := s.Field(name)
		switch {
		case !ok:
			return fmt.Errorf("%s: unknown column %q", s.Table, name)
		case f.Required:
			return fmt.Errorf("%s: required column %q cannot be cleared", s.Table, name)
		}
	}
	return nil
}
