package renderer_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crimson-pen/apperrors"
	"crimson-pen/config"
	"crimson-pen/models"
	"crimson-pen/renderer"
)

const portal = `<ul>{{range .Items}}<li><a href="articles/{{.date}}.html">{{field . "title" "en"}}</a></li>{{end}}</ul><p>{{.Count}} columns, {{.GeneratedOn}}</p>`

const article = `<h1>{{field .Item "title" "en"}}</h1><div>{{raw (field .Item "content" "en")}}</div>{{with .Item.note}}<aside>{{markdown .}}</aside>{{end}}<time>{{.Date}}</time>`

func renderConfig(out string) config.RenderConfig {
	return config.RenderConfig{
		FeedTemplate:      "template_portal.html",
		PermalinkTemplate: "template_article.html",
		OutputDir:         out,
		FeedFile:          "index.html",
		PermalinkDir:      "articles",
	}
}

func history() (models.History, models.Record) {
	latest := models.Record{Date: "2024-01-02", Fields: models.Fields{
		"title_en":   "Rates <hold>",
		"content_en": `<span class="term" data-def="x">BOJ</span> waits`,
		"note":       "**bold** move",
	}}
	older := models.Record{Date: "2024-01-01", Fields: models.Fields{"title_en": "New year"}}
	return models.History{latest, older}, latest
}

func TestRenderBothViews(t *testing.T) {
	out := t.TempDir()
	fsys := fstest.MapFS{
		"template_portal.html":  {Data: []byte(portal)},
		"template_article.html": {Data: []byte(article)},
	}
	h, latest := history()

	pub, diags, err := renderer.NewRenderer(fsys, renderConfig(out)).Render(h, latest)

	require.NoError(t, err)
	assert.Empty(t, diags)
	require.Len(t, pub.Documents, 2)

	perma := string(pub.Documents[0].Body)
	assert.Equal(t, filepath.Join(out, "articles", "2024-01-02.html"), pub.Documents[0].Path)
	assert.Contains(t, perma, "<h1>Rates &lt;hold&gt;</h1>", "plain fields are escaped")
	assert.Contains(t, perma, `<span class="term" data-def="x">BOJ</span> waits`, "raw keeps tagged spans")
	assert.Contains(t, perma, "<strong>bold</strong>")
	assert.Contains(t, perma, "<time>2024-01-02</time>")

	feed := string(pub.Documents[1].Body)
	assert.Equal(t, filepath.Join(out, "index.html"), pub.Documents[1].Path)
	assert.Contains(t, feed, `<a href="articles/2024-01-02.html">Rates &lt;hold&gt;</a>`)
	assert.Contains(t, feed, `<a href="articles/2024-01-01.html">New year</a>`)
	assert.Less(t, strings.Index(feed, "2024-01-02"), strings.Index(feed, "2024-01-01"), "newest first")
	assert.Contains(t, feed, "2 columns, 2024-01-02")

	require.NoError(t, pub.Write())
	data, err := os.ReadFile(filepath.Join(out, "articles", "2024-01-02.html"))
	require.NoError(t, err)
	assert.Equal(t, perma, string(data))
	_, err = os.Stat(filepath.Join(out, "index.html"))
	assert.NoError(t, err)
}

func TestRenderIsDeterministic(t *testing.T) {
	fsys := fstest.MapFS{
		"template_portal.html":  {Data: []byte(portal)},
		"template_article.html": {Data: []byte(article)},
	}
	h, latest := history()
	r := renderer.NewRenderer(fsys, renderConfig(t.TempDir()))

	a, _, err := r.Render(h, latest)
	require.NoError(t, err)
	b, _, err := r.Render(h, latest)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestRenderMissingTemplateSkipsView(t *testing.T) {
	fsys := fstest.MapFS{"template_portal.html": {Data: []byte(portal)}}
	h, latest := history()

	pub, diags, err := renderer.NewRenderer(fsys, renderConfig(t.TempDir())).Render(h, latest)

	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.True(t, errors.Is(diags[0], apperrors.ErrTemplateMissing))
	assert.Equal(t, renderer.ViewPermalink, diags[0].Context["view"])
	require.Len(t, pub.Documents, 1)
	assert.Equal(t, renderer.ViewFeed, pub.Documents[0].View)
}

func TestRenderBrokenTemplateFails(t *testing.T) {
	fsys := fstest.MapFS{
		"template_portal.html":  {Data: []byte(`{{range .Items}}`)},
		"template_article.html": {Data: []byte(article)},
	}
	h, latest := history()

	_, _, err := renderer.NewRenderer(fsys, renderConfig(t.TempDir())).Render(h, latest)

	assert.Error(t, err)
}

func TestRenderShippedTemplatesToleratesOddOptionalFields(t *testing.T) {
	cases := map[string]models.Fields{
		"proverb as string":        {"proverb": "just a string", "glossary": []any{map[string]any{"term_en": "BOJ", "def_en": "central bank"}}},
		"glossary items as string": {"proverb": map[string]any{"title_en": "Haste", "desc_en": "slow down"}, "glossary": []any{"X: x"}},
		"glossary as string":       {"glossary": "BOJ: central bank"},
		"proverb as list":          {"proverb": []any{"a", "b"}},
	}
	for name, extra := range cases {
		t.Run(name, func(t *testing.T) {
			fields := models.Fields{"title_en": "Rates", "content_en": "body", "title_jp": "金利", "content_jp": "本文"}
			for k, v := range extra {
				fields[k] = v
			}
			rec := models.Record{Date: "2024-01-02", Fields: fields}

			pub, diags, err := renderer.NewRenderer(os.DirFS(".."), renderConfig(t.TempDir())).Render(models.History{rec}, rec)

			require.NoError(t, err)
			assert.Empty(t, diags)
			require.Len(t, pub.Documents, 2)
			perma := string(pub.Documents[0].Body)
			assert.Contains(t, perma, "<h1>Rates</h1>")
			assert.Contains(t, perma, "<h1>金利</h1>")
		})
	}
}

func TestRenderShippedTemplatesWellShapedOptionalFields(t *testing.T) {
	rec := models.Record{Date: "2024-01-02", Fields: models.Fields{
		"title_en": "Rates", "content_en": "body", "title_jp": "金利", "content_jp": "本文",
		"proverb":  map[string]any{"title_en": "Haste makes waste", "desc_en": "slow down"},
		"glossary": []any{map[string]any{"term_en": "BOJ", "term_jp": "日銀", "def_en": "central bank"}},
	}}

	pub, _, err := renderer.NewRenderer(os.DirFS(".."), renderConfig(t.TempDir())).Render(models.History{rec}, rec)

	require.NoError(t, err)
	perma := string(pub.Documents[0].Body)
	assert.Contains(t, perma, "<h3>Haste makes waste</h3>")
	assert.Contains(t, perma, "<dt>BOJ / 日銀</dt><dd>central bank</dd>")
}
