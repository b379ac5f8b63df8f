// Package renderer projects the history into the feed page and the
// permalink page of the newest record.
package renderer

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"crimson-pen/apperrors"
	"crimson-pen/config"
	"crimson-pen/models"
	"crimson-pen/repositories"
)

const (
	ViewFeed      = "feed"
	ViewPermalink = "permalink"
)

// FeedView is the data handed to the feed template.
type FeedView struct {
	Items       []map[string]any
	Latest      map[string]any
	Count       int
	GeneratedOn string
}

// PermalinkView is the data handed to the permalink template.
type PermalinkView struct {
	Item map[string]any
	Date string
}

// Document is one rendered output file.
type Document struct {
	View string
	Path string
	Body []byte
}

// Publication holds the documents of one run.
type Publication struct {
	Documents []Document
}

// Write overwrites every document atomically.
func (p *Publication) Write() error {
	for _, d := range p.Documents {
		if err := repositories.WriteFileAtomic(d.Path, d.Body); err != nil {
			return fmt.Errorf("write %s view: %w", d.View, err)
		}
	}
	return nil
}

// Paths lists the output paths in render order.
func (p *Publication) Paths() []string {
	out := make([]string, 0, len(p.Documents))
	for _, d := range p.Documents {
		out = append(out, d.Path)
	}
	return out
}

type Renderer struct {
	fsys fs.FS
	cfg  config.RenderConfig
	md   goldmark.Markdown
}

// NewRenderer reads template definitions from fsys by the names in cfg.
func NewRenderer(fsys fs.FS, cfg config.RenderConfig) *Renderer {
	return &Renderer{
		fsys: fsys,
		cfg:  cfg,
		md:   goldmark.New(goldmark.WithRendererOptions(gmhtml.WithUnsafe())),
	}
}

// Render produces the feed view from the whole history and the permalink
// view from latest. A missing template skips its view and is reported as a
// diagnostic; a template that fails to parse or execute aborts the render.
func (r *Renderer) Render(h models.History, latest models.Record) (*Publication, []*apperrors.Error, error) {
	pub := &Publication{}
	var diags []*apperrors.Error

	views := []struct {
		view string
		name string
		out  string
		data any
	}{
		{
			view: ViewPermalink,
			name: r.cfg.PermalinkTemplate,
			out:  filepath.Join(r.cfg.OutputDir, r.cfg.PermalinkDir, latest.Date+".html"),
			data: PermalinkView{Item: latest.View(), Date: latest.Date},
		},
		{
			view: ViewFeed,
			name: r.cfg.FeedTemplate,
			out:  filepath.Join(r.cfg.OutputDir, r.cfg.FeedFile),
			data: FeedView{Items: h.Views(), Latest: latest.View(), Count: len(h), GeneratedOn: latest.Date},
		},
	}

	for _, v := range views {
		tmpl, err := r.load(v.name)
		if errors.Is(err, fs.ErrNotExist) {
			diag := apperrors.TemplateMissing(v.view, v.name)
			config.WarnWithFields("template missing, view skipped", config.Fields{
				"view":     v.view,
				"template": v.name,
			})
			diags = append(diags, diag)
			continue
		}
		if err != nil {
			return nil, diags, err
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, v.data); err != nil {
			return nil, diags, fmt.Errorf("execute %s template %s: %w", v.view, v.name, err)
		}
		pub.Documents = append(pub.Documents, Document{View: v.view, Path: v.out, Body: buf.Bytes()})
	}
	return pub, diags, nil
}

func (r *Renderer) load(name string) (*template.Template, error) {
	if _, err := fs.Stat(r.fsys, name); err != nil {
		return nil, err
	}
	tmpl, err := template.New(path.Base(name)).Funcs(r.funcs()).ParseFS(r.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return tmpl, nil
}

func (r *Renderer) funcs() template.FuncMap {
	return template.FuncMap{
		// raw passes trusted HTML through; tagged bodies carry glossary spans.
		"raw": func(v any) template.HTML {
			if v == nil {
				return ""
			}
			return template.HTML(fmt.Sprint(v))
		},
		"markdown": func(v any) (template.HTML, error) {
			if v == nil {
				return "", nil
			}
			var buf bytes.Buffer
			if err := r.md.Convert([]byte(fmt.Sprint(v)), &buf); err != nil {
				return "", err
			}
			return template.HTML(buf.String()), nil
		},
		// field looks up a language-suffixed key: field .Item "title" "en".
		// Anything that is not an object yields nil.
		"field": func(item any, name string, lang ...string) any {
			m, ok := item.(map[string]any)
			if !ok {
				return nil
			}
			l := ""
			if len(lang) > 0 {
				l = lang[0]
			}
			return m[models.Key(name, l)]
		},
		"object": func(v any) map[string]any {
			m, _ := v.(map[string]any)
			return m
		},
		"list": func(v any) []any {
			l, _ := v.([]any)
			return l
		},
	}
}
