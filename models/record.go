package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the calendar-day key format of a Record.
const DateLayout = "2006-01-02"

// dateKey is reserved in the flattened serialization.
const dateKey = "date"

// Fields is the open field mapping produced by the generation service.
// Values are plain text, nested objects or sequences, decoded from JSON.
type Fields map[string]any

// Record is one generation result for a calendar day.
// Serialized flat: {"date": "...", <fields>}.
type Record struct {
	Date   string
	Fields Fields
}

// NewRecord stamps fields with the given day. Any "date" key produced by the
// generation service is discarded; the day is owned by the pipeline.
func NewRecord(day time.Time, fields Fields) Record {
	r := Record{Fields: fields.Clone()}
	delete(r.Fields, dateKey)
	r.Date = day.Format(DateLayout)
	return r
}

// Key returns the field name for a language; "" means the unsuffixed field.
func Key(field, lang string) string {
	if lang == "" {
		return field
	}
	return field + "_" + lang
}

// String returns a string field, or "" when absent or not text.
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Clone copies the top level of the mapping.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Missing lists required fields that are absent or blank, for every language.
func (f Fields) Missing(required []string, languages []string) []string {
	langs := languages
	if len(langs) == 0 {
		langs = []string{""}
	}
	var missing []string
	for _, field := range required {
		for _, lang := range langs {
			key := Key(field, lang)
			if v, ok := f[key]; !ok || isBlank(v) {
				missing = append(missing, key)
			}
		}
	}
	return missing
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

// View returns the flattened mapping handed to templates and the API.
func (r Record) View() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[dateKey] = r.Date
	return out
}

// RecordFromMap splits a flattened mapping back into date and fields.
func RecordFromMap(m map[string]any) Record {
	r := Record{Fields: make(Fields, len(m))}
	for k, v := range m {
		if k == dateKey {
			r.Date = fmt.Sprint(v)
			continue
		}
		r.Fields[k] = v
	}
	return r
}

// MarshalJSON keeps HTML in field values unescaped (tagged bodies carry spans).
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.View()); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = RecordFromMap(m)
	return nil
}
