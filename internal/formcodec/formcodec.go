// Package formcodec converts between flat, index-encoded form values and the
// nested day log shape.
//
// Field names follow this grammar:
//
//	name     = scalar | indexed
//	scalar   = "date" | "notes" | "meditate.duration" | "meditate.type"
//	indexed  = category "[" index "]" "." field
//	category = "create" | "connect" | "learn"
//	index    = 1*DIGIT
//	field    = "description"          (create)
//	         | "people" | "notes"     (connect)
//	         | "topic" | "method"     (learn)
//
// Names that do not match are ignored. All functions are pure.
package formcodec

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/daylens/internal/models"
)

// Scalar field names.
const (
	FieldDate             = "date"
	FieldNotes            = "notes"
	FieldMeditateDuration = "meditate.duration"
	FieldMeditateType     = "meditate.type"
)

// categoryFields lists the entry fields of each category in display order.
var categoryFields = map[models.Category][]string{
	models.CategoryCreate:  {"description"},
	models.CategoryConnect: {"people", "notes"},
	models.CategoryLearn:   {"topic", "method"},
}

// Fields returns the entry field names of a category.
func Fields(c models.Category) []string {
	return categoryFields[c]
}

// Field is a parsed indexed field name.
type Field struct {
	Category models.Category
	Index    int
	Name     string
}

// FieldName renders the indexed name for category c, entry i and field.
func FieldName(c models.Category, i int, field string) string {
	return string(c) + "[" + strconv.Itoa(i) + "]." + field
}

// String is the inverse of ParseFieldName.
func (f Field) String() string {
	return FieldName(f.Category, f.Index, f.Name)
}

// ParseFieldName parses an indexed field name. It reports false for scalar
// names and anything outside the grammar.
func ParseFieldName(name string) (Field, bool) {
	open := strings.IndexByte(name, '[')
	if open <= 0 {
		return Field{}, false
	}
	cat := models.Category(name[:open])
	allowed, ok := categoryFields[cat]
	if !ok {
		return Field{}, false
	}
	rest := name[open+1:]
	closeIdx := strings.IndexByte(rest, ']')
	if closeIdx <= 0 {
		return Field{}, false
	}
	digits := rest[:closeIdx]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return Field{}, false
		}
	}
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return Field{}, false
	}
	rest = rest[closeIdx+1:]
	if !strings.HasPrefix(rest, ".") {
		return Field{}, false
	}
	field := rest[1:]
	for _, a := range allowed {
		if a == field {
			return Field{Category: cat, Index: idx, Name: field}, true
		}
	}
	return Field{}, false
}

// LogForm is the editable part of a day log as submitted by the editor.
// Date is kept as submitted; the record layer parses it.
type LogForm struct {
	Date     string
	Create   []models.CreateEntry
	Connect  []models.ConnectEntry
	Learn    []models.LearnEntry
	Meditate models.Meditate
	Notes    string
}

// Decode groups indexed values by category and index and rebuilds each
// entry. Entries are ordered by index; gaps are closed. Empty entries are
// kept so that a draft round-trips through the editor unchanged.
func Decode(values url.Values) LogForm {
	var f LogForm
	rows := map[models.Category]map[int]map[string]string{}

	for name, vs := range values {
		if len(vs) == 0 {
			continue
		}
		v := vs[len(vs)-1]
		switch name {
		case FieldDate:
			f.Date = v
			continue
		case FieldNotes:
			f.Notes = v
			continue
		case FieldMeditateDuration:
			f.Meditate.Duration = ParseDuration(v)
			continue
		case FieldMeditateType:
			f.Meditate.Type = v
			continue
		}
		field, ok := ParseFieldName(name)
		if !ok {
			continue
		}
		byIndex := rows[field.Category]
		if byIndex == nil {
			byIndex = map[int]map[string]string{}
			rows[field.Category] = byIndex
		}
		entry := byIndex[field.Index]
		if entry == nil {
			entry = map[string]string{}
			byIndex[field.Index] = entry
		}
		entry[field.Name] = v
	}

	for _, e := range ordered(rows[models.CategoryCreate]) {
		f.Create = append(f.Create, models.CreateEntry{Description: e["description"]})
	}
	for _, e := range ordered(rows[models.CategoryConnect]) {
		f.Connect = append(f.Connect, models.ConnectEntry{People: e["people"], Notes: e["notes"]})
	}
	for _, e := range ordered(rows[models.CategoryLearn]) {
		f.Learn = append(f.Learn, models.LearnEntry{Topic: e["topic"], Method: e["method"]})
	}
	return f
}

func ordered(byIndex map[int]map[string]string) []map[string]string {
	if len(byIndex) == 0 {
		return nil
	}
	idx := make([]int, 0, len(byIndex))
	for i := range byIndex {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]map[string]string, len(idx))
	for n, i := range idx {
		out[n] = byIndex[i]
	}
	return out
}

// Parse decodes values and drops empty entries. This is what gets saved.
func Parse(values url.Values) LogForm {
	return Decode(values).Compact()
}

// Compact returns a copy of f without entries whose text fields are all
// empty. Compact is idempotent.
func (f LogForm) Compact() LogForm {
	out := f
	out.Create = keep(f.Create, models.CreateEntry.IsEmpty)
	out.Connect = keep(f.Connect, models.ConnectEntry.IsEmpty)
	out.Learn = keep(f.Learn, models.LearnEntry.IsEmpty)
	return out
}

func keep[T any](in []T, empty func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, e := range in {
		if !empty(e) {
			out = append(out, e)
		}
	}
	return out
}

// WithBlankEntry returns a copy of f with one empty entry appended to c.
func (f LogForm) WithBlankEntry(c models.Category) LogForm {
	out := f
	switch c {
	case models.CategoryCreate:
		out.Create = append(append([]models.CreateEntry(nil), f.Create...), models.CreateEntry{})
	case models.CategoryConnect:
		out.Connect = append(append([]models.ConnectEntry(nil), f.Connect...), models.ConnectEntry{})
	case models.CategoryLearn:
		out.Learn = append(append([]models.LearnEntry(nil), f.Learn...), models.LearnEntry{})
	}
	return out
}

// ParseDuration parses a meditation duration in minutes. Anything that is
// not a finite, non-negative number yields 0.
func ParseDuration(s string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0
	}
	return d
}

// FormatDuration renders a duration for an input value.
func FormatDuration(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}

// Encode is the inverse of Decode.
func Encode(f LogForm) url.Values {
	v := url.Values{}
	v.Set(FieldDate, f.Date)
	v.Set(FieldNotes, f.Notes)
	v.Set(FieldMeditateDuration, FormatDuration(f.Meditate.Duration))
	v.Set(FieldMeditateType, f.Meditate.Type)
	for i, e := range f.Create {
		v.Set(FieldName(models.CategoryCreate, i, "description"), e.Description)
	}
	for i, e := range f.Connect {
		v.Set(FieldName(models.CategoryConnect, i, "people"), e.People)
		v.Set(FieldName(models.CategoryConnect, i, "notes"), e.Notes)
	}
	for i, e := range f.Learn {
		v.Set(FieldName(models.CategoryLearn, i, "topic"), e.Topic)
		v.Set(FieldName(models.CategoryLearn, i, "method"), e.Method)
	}
	return v
}

// FromLog builds the editor form for an existing log. Date is rendered in
// the log's own location as YYYY-MM-DD.
func FromLog(l models.DayLog) LogForm {
	return LogForm{
		Date:     l.Date.Format(DateLayout),
		Create:   append([]models.CreateEntry(nil), l.Create...),
		Connect:  append([]models.ConnectEntry(nil), l.Connect...),
		Learn:    append([]models.LearnEntry(nil), l.Learn...),
		Meditate: l.Meditate,
		Notes:    l.Notes,
	}
}

// DateLayout is the value format of the date input.
const DateLayout = "2006-01-02"
