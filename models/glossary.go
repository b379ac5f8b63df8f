package models

import "strings"

// GlossaryEntry is a (term, definition) pair for one language.
// Owned by its Record; never persisted on its own.
type GlossaryEntry struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// GlossarySchema names where glossary entries live inside a Record.
type GlossarySchema struct {
	Field         string
	TermKey       string
	DefinitionKey string
}

// Glossary returns the entries for lang in the order the record lists them.
// Entries with an empty term are skipped.
func (r Record) Glossary(s GlossarySchema, lang string) []GlossaryEntry {
	items, ok := r.Fields[s.Field].([]any)
	if !ok {
		return nil
	}
	termKey := Key(s.TermKey, lang)
	defKey := Key(s.DefinitionKey, lang)

	var entries []GlossaryEntry
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		term, _ := m[termKey].(string)
		def, _ := m[defKey].(string)
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		entries = append(entries, GlossaryEntry{Term: term, Definition: def})
	}
	return entries
}
