package models_test

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crimson-pen/models"
)

func rec(date, title string) models.Record {
	return models.Record{Date: date, Fields: models.Fields{"title": title, "content": "body " + title}}
}

func TestUpsertIsIdempotent(t *testing.T) {
	h := models.History{rec("2024-01-02", "b"), rec("2024-01-01", "a")}
	r := rec("2024-01-03", "c")

	once := h.Upsert(r, 100)
	twice := once.Upsert(r, 100)

	assert.Equal(t, once, twice)
	assert.Len(t, once, 3)
	assert.Equal(t, "2024-01-03", once[0].Date)
}

func TestUpsertReplacesSameDate(t *testing.T) {
	h := models.History{rec("2024-01-02", "old"), rec("2024-01-01", "a")}

	out := h.Upsert(rec("2024-01-02", "new"), 100)

	require.Len(t, out, 2)
	assert.Equal(t, "new", out[0].Fields.String("title"))
	assert.Equal(t, "old", h[0].Fields.String("title"), "input history must not be mutated")
}

func TestUpsertKeepsStrictlyDescendingOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var h models.History
	for i := 0; i < 300; i++ {
		day := start.AddDate(0, 0, rng.Intn(60))
		h = h.Upsert(models.NewRecord(day, models.Fields{"title": fmt.Sprint(i)}), 100)

		for j := 1; j < len(h); j++ {
			require.Greater(t, h[j-1].Date, h[j].Date, "history must be strictly descending by date")
		}
	}
}

func TestUpsertBound(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var h models.History
	for i := 0; i < 150; i++ {
		h = h.Upsert(models.NewRecord(start.AddDate(0, 0, i), models.Fields{"title": "t"}), 100)
		require.LessOrEqual(t, len(h), 100)
	}
	assert.Len(t, h, 100)
	assert.Equal(t, "2024-05-29", h[0].Date)
	assert.Equal(t, start.AddDate(0, 0, 50).Format(models.DateLayout), h[99].Date, "oldest records are dropped")
}

func TestNewRecordOwnsDate(t *testing.T) {
	fields := models.Fields{"title": "T", "date": "1999-12-31"}

	r := models.NewRecord(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), fields)

	assert.Equal(t, "2024-01-01", r.Date)
	assert.NotContains(t, r.Fields, "date")
	assert.Contains(t, fields, "date", "caller fields are not mutated")
}

func TestRecordJSONIsFlat(t *testing.T) {
	r := models.Record{Date: "2024-01-01", Fields: models.Fields{
		"title":   "東京",
		"proverb": map[string]any{"title": "p", "desc": "d"},
	}}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "2024-01-01", flat["date"])
	assert.Equal(t, "東京", flat["title"])

	var back models.Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r, back)
}

func TestMissingChecksEveryLanguage(t *testing.T) {
	f := models.Fields{"title_en": "T", "title_jp": "", "content_en": "C"}

	missing := f.Missing([]string{"title", "content"}, []string{"en", "jp"})

	assert.Equal(t, []string{"title_jp", "content_jp"}, missing)
	assert.Empty(t, models.Fields{"title": "T", "content": "C"}.Missing([]string{"title", "content"}, nil))
}

func TestGlossaryPerLanguage(t *testing.T) {
	r := models.Record{Fields: models.Fields{"glossary": []any{
		map[string]any{"term_en": "Nikkei", "def_en": "index", "term_jp": "日経", "def_jp": "指数"},
		map[string]any{"term_en": " ", "def_en": "skipped"},
		"not an entry",
	}}}
	s := models.GlossarySchema{Field: "glossary", TermKey: "term", DefinitionKey: "def"}

	assert.Equal(t, []models.GlossaryEntry{{Term: "Nikkei", Definition: "index"}}, r.Glossary(s, "en"))
	assert.Equal(t, []models.GlossaryEntry{{Term: "日経", Definition: "指数"}}, r.Glossary(s, "jp"))
	assert.Empty(t, r.Glossary(s, "fr"))
}
