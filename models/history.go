package models

// DefaultMaxEntries bounds a History when no limit is configured.
const DefaultMaxEntries = 100

// History is the recency-ordered, date-unique collection of Records.
// Newest first.
type History []Record

// Upsert removes any record with the same date, inserts rec at its recency
// position (the front for the newest day) and truncates to maxEntries.
// The receiver is not modified. Applying the same record twice yields the
// same History as applying it once.
func (h History) Upsert(rec Record, maxEntries int) History {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	out := make(History, 0, len(h)+1)
	inserted := false
	for _, existing := range h {
		if existing.Date == rec.Date {
			continue
		}
		if !inserted && existing.Date < rec.Date {
			out = append(out, rec)
			inserted = true
		}
		out = append(out, existing)
	}
	if !inserted {
		out = append(out, rec)
	}
	return out.Truncate(maxEntries)
}

// Truncate drops the oldest records beyond maxEntries.
func (h History) Truncate(maxEntries int) History {
	if maxEntries > 0 && len(h) > maxEntries {
		return h[:maxEntries]
	}
	return h
}

// Find returns the record for a date.
func (h History) Find(date string) (Record, bool) {
	for _, r := range h {
		if r.Date == date {
			return r, true
		}
	}
	return Record{}, false
}

// Views flattens every record for templates and the API.
func (h History) Views() []map[string]any {
	out := make([]map[string]any, 0, len(h))
	for _, r := range h {
		out = append(out, r.View())
	}
	return out
}
