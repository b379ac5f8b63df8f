// Package tagger wraps glossary terms in body text with interactive spans.
//
// Replacement is literal and case-sensitive, applied entry by entry in the
// order the glossary lists them. A term that is a substring of an earlier
// term, or of the span markup itself, will also match inside spans already
// inserted; callers accept this order dependence.
package tagger

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"crimson-pen/config"
	"crimson-pen/models"
)

// Tagger rewrites a Record's body field per language.
type Tagger struct {
	Languages []string
	BodyField string
	Glossary  models.GlossarySchema
	SpanClass string
	Attribute string
}

// New builds a Tagger for the active schema and tagging settings.
func New(schema config.SchemaConfig, tagging config.TaggingConfig) *Tagger {
	return &Tagger{
		Languages: schema.Languages,
		BodyField: schema.BodyField,
		Glossary: models.GlossarySchema{
			Field:         schema.GlossaryField,
			TermKey:       schema.GlossaryTermKey,
			DefinitionKey: schema.GlossaryDefinitionKey,
		},
		SpanClass: tagging.SpanClass,
		Attribute: tagging.Attribute,
	}
}

// Tag rewrites the body field of rec for each language that has glossary
// entries and returns the number of spans inserted.
func (t *Tagger) Tag(rec *models.Record) int {
	langs := t.Languages
	if len(langs) == 0 {
		langs = []string{""}
	}

	total := 0
	for _, lang := range langs {
		entries := rec.Glossary(t.Glossary, lang)
		if len(entries) == 0 {
			continue
		}
		key := models.Key(t.BodyField, lang)
		body, ok := rec.Fields[key].(string)
		if !ok {
			continue
		}
		tagged, n := t.TagText(body, entries)
		rec.Fields[key] = tagged
		total += n
	}
	return total
}

// TagText replaces every occurrence of each entry's term in body.
func (t *Tagger) TagText(body string, entries []models.GlossaryEntry) (string, int) {
	total := 0
	for _, e := range entries {
		n := strings.Count(body, e.Term)
		if n == 0 {
			continue
		}
		body = strings.ReplaceAll(body, e.Term, t.Span(e))
		total += n
	}
	return body, total
}

// Span renders the markup for one entry. The definition is escaped so it
// cannot terminate the quoted attribute.
func (t *Tagger) Span(e models.GlossaryEntry) string {
	return fmt.Sprintf(`<span class="%s" %s="%s">%s</span>`,
		html.EscapeString(t.SpanClass), t.Attribute, html.EscapeString(e.Definition), e.Term)
}
