package listing

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no record matches an id.
var ErrNotFound = errors.New("listing: record not found")

// Record is a single stored listing. ID and CreatedAt are assigned by the store.
type Record struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	Text      map[string]string  `json:"text"`
	Numbers   map[string]float64 `json:"numbers"`
	Images    []string           `json:"images"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Text = cloneText(r.Text)
	out.Numbers = cloneNumbers(r.Numbers)
	out.Images = append([]string(nil), r.Images...)
	return out
}

// Flatten renders r the way the backing table stores it: one key per column.
func (r Record) Flatten() map[string]any {
	out := make(map[string]any, len(r.Text)+len(r.Numbers)+3)
	for k, v := range r.Text {
		out[k] = v
	}
	for k, v := range r.Numbers {
		out[k] = v
	}
	out[ColumnID] = r.ID
	out[ColumnCreatedAt] = r.CreatedAt
	images := r.Images
	if images == nil {
		images = []string{}
	}
	out[ColumnImages] = images
	return out
}

// Values holds validated, typed form values for one record.
type Values struct {
	Text    map[string]string
	Numbers map[string]float64
}

// Record builds an unsaved record from v carrying the given images.
func (v Values) Record(images []string) Record {
	return Record{
		Text:    cloneText(v.Text),
		Numbers: cloneNumbers(v.Numbers),
		Images:  append([]string(nil), images...),
	}
}

// Patch converts v into a partial update that leaves images untouched.
func (v Values) Patch() Patch {
	return Patch{Text: cloneText(v.Text), Numbers: cloneNumbers(v.Numbers)}
}

// Replace converts a whole submitted form into an update. Optional fields the
// form left blank are cleared instead of keeping their stored value.
func (v Values) Replace(schema Schema) Patch {
	p := v.Patch()
	for _, f := range schema.Fields {
		if f.Required {
			continue
		}
		_, isText := v.Text[f.Name]
		_, isNumber := v.Numbers[f.Name]
		if !isText && !isNumber {
			p.Clear = append(p.Clear, f.Name)
		}
	}
	return p
}

// Patch is a partial update applied to a record matched by id.
type Patch struct {
	Text    map[string]string
	Numbers map[string]float64
	Images  []string
	// ReplaceImages marks Images as part of the patch so an empty list can be written.
	ReplaceImages bool
	// Clear names optional columns to reset to NULL.
	Clear []string
}

// ImagesPatch returns a patch that only replaces the image list.
func ImagesPatch(images []string) Patch {
	return Patch{Images: append([]string{}, images...), ReplaceImages: true}
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return len(p.Text) == 0 && len(p.Numbers) == 0 && len(p.Clear) == 0 && !p.ReplaceImages
}

// Apply writes the patch onto r.
func (p Patch) Apply(r *Record) {
	if len(p.Text) > 0 && r.Text == nil {
		r.Text = make(map[string]string, len(p.Text))
	}
	for k, v := range p.Text {
		r.Text[k] = v
	}
	if len(p.Numbers) > 0 && r.Numbers == nil {
		r.Numbers = make(map[string]float64, len(p.Numbers))
	}
	for k, v := range p.Numbers {
		r.Numbers[k] = v
	}
	if p.ReplaceImages {
		r.Images = append([]string{}, p.Images...)
	}
	for _, name := range p.Clear {
		delete(r.Text, name)
		delete(r.Numbers, name)
	}
}

// TableStore is the record-store collaborator. Implementations own id and
// created_at assignment; Select returns records newest first.
type TableStore interface {
	Select(ctx context.Context, schema Schema) ([]Record, error)
	Insert(ctx context.Context, schema Schema, rec Record) (Record, error)
	Update(ctx context.Context, schema Schema, id string, patch Patch) error
	Delete(ctx context.Context, schema Schema, id string) error
}

func cloneText(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneNumbers(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
