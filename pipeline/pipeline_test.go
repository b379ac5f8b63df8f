package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crimson-pen/apperrors"
	"crimson-pen/clock"
	"crimson-pen/config"
	"crimson-pen/feeder"
	"crimson-pen/generator"
	"crimson-pen/metrics"
	"crimson-pen/models"
	"crimson-pen/pipeline"
	"crimson-pen/renderer"
	"crimson-pen/repositories"
)

// stubService answers every request with respond.
type stubService struct {
	respond  func(req generator.Request) (string, error)
	requests []generator.Request
}

func (s *stubService) Generate(_ context.Context, req generator.Request) (*generator.Response, error) {
	s.requests = append(s.requests, req)
	text, err := s.respond(req)
	if err != nil {
		return nil, err
	}
	return &generator.Response{Text: text, ModelName: req.Model}, nil
}

func reply(text string) func(generator.Request) (string, error) {
	return func(generator.Request) (string, error) { return text, nil }
}

const column = "Here you go:\n```json\n" + `{
  "title": "Rates hold",
  "content": "The BOJ held rates. The BOJ waits.",
  "proverb": {"title": "Haste makes waste", "desc": "slow down"},
  "glossary": [{"term": "BOJ", "def": "Japan's central bank"}]
}` + "\n```\nEnjoy."

var templates = fstest.MapFS{
	"template_portal.html":  {Data: []byte(`{{range .Items}}<a href="articles/{{.date}}.html">{{.title}}</a>{{end}}`)},
	"template_article.html": {Data: []byte(`<h1>{{.Item.title}}</h1><p>{{raw .Item.content}}</p>`)},
}

type fixture struct {
	cfg     config.AppConfig
	dir     string
	service *stubService
	clock   *clock.Fake
}

func newFixture(t *testing.T, respond func(generator.Request) (string, error)) *fixture {
	dir := t.TempDir()
	cfg := config.AppConfig{Timezone: "UTC"}
	cfg.Generation.Prompt = "Write today's ({{.Date}}) column."
	cfg.ApplyDefaults()
	cfg.Timezone = "UTC"
	cfg.History.Path = filepath.Join(dir, "data.json")
	cfg.Render.OutputDir = dir

	return &fixture{
		cfg:     cfg,
		dir:     dir,
		service: &stubService{respond: respond},
		clock:   clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func (f *fixture) pipeline(extra ...func(*pipeline.Deps)) *pipeline.Pipeline {
	deps := pipeline.Deps{
		Service:  f.service,
		Store:    repositories.NewHistoryStore(repositories.NewFileHistoryBackend(f.cfg.History.Path), f.cfg.History.MaxEntries),
		Renderer: renderer.NewRenderer(templates, f.cfg.Render),
		Clock:    f.clock,
	}
	for _, fn := range extra {
		fn(&deps)
	}
	return pipeline.New(f.cfg, deps)
}

func (f *fixture) history(t *testing.T) []map[string]any {
	data, err := os.ReadFile(f.cfg.History.Path)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func (f *fixture) read(t *testing.T, rel ...string) string {
	data, err := os.ReadFile(filepath.Join(append([]string{f.dir}, rel...)...))
	require.NoError(t, err)
	return string(data)
}

func TestRunPublishesFirstRecord(t *testing.T) {
	f := newFixture(t, reply(column))

	res, err := f.pipeline().Run(context.Background(), pipeline.RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", res.Date)
	assert.Equal(t, 1, res.HistorySize)
	assert.Equal(t, 2, res.Spans)
	assert.Empty(t, res.Diagnostics)
	assert.NotEmpty(t, res.RunID)

	h := f.history(t)
	require.Len(t, h, 1)
	assert.Equal(t, "2024-01-01", h[0]["date"])
	assert.Equal(t, "Rates hold", h[0]["title"])
	assert.Contains(t, h[0]["content"], `<span class="term" data-def="Japan&#39;s central bank">BOJ</span>`)

	assert.Contains(t, f.read(t, "index.html"), `href="articles/2024-01-01.html"`)
	assert.Contains(t, f.read(t, "articles", "2024-01-01.html"), "<h1>Rates hold</h1>")

	require.Len(t, f.service.requests, 1)
	assert.Equal(t, "Write today's (2024-01-01) column.", f.service.requests[0].Prompt)
}

func TestRunSameDayReplacesRecord(t *testing.T) {
	f := newFixture(t, reply(column))
	_, err := f.pipeline().Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)

	f.service.respond = reply(`{"title": "Second take", "content": "New body"}`)
	res, err := f.pipeline().Run(context.Background(), pipeline.RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, res.HistorySize)
	h := f.history(t)
	require.Len(t, h, 1)
	assert.Equal(t, "Second take", h[0]["title"])
	assert.Contains(t, f.read(t, "articles", "2024-01-01.html"), "Second take")
}

func TestRunKeepsNewestFirstAcrossDays(t *testing.T) {
	f := newFixture(t, reply(column))
	_, err := f.pipeline().Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)

	f.clock.Set(time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC))
	_, err = f.pipeline().Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)

	h := f.history(t)
	require.Len(t, h, 2)
	assert.Equal(t, "2024-01-02", h[0]["date"])
	assert.Equal(t, "2024-01-01", h[1]["date"])
}

func TestRunDateOverrideUsesConfiguredZone(t *testing.T) {
	f := newFixture(t, reply(column))

	override := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)
	res, err := f.pipeline().Run(context.Background(), pipeline.RunOptions{Date: override})

	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", res.Date)
	assert.Equal(t, filepath.Join(f.dir, "articles", "2024-03-05.html"), res.Documents[0])
}

func TestFailedRunLeavesDurableStateUntouched(t *testing.T) {
	f := newFixture(t, reply(column))
	_, err := f.pipeline().Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)
	before := map[string]string{
		"data":  f.read(t, "data.json"),
		"index": f.read(t, "index.html"),
		"perma": f.read(t, "articles", "2024-01-01.html"),
	}

	f.service.respond = reply("I cannot help with that.")
	f.clock.Set(time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC))
	_, err = f.pipeline().Run(context.Background(), pipeline.RunOptions{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGenerationFailed))
	assert.Equal(t, before["data"], f.read(t, "data.json"))
	assert.Equal(t, before["index"], f.read(t, "index.html"))
	assert.Equal(t, before["perma"], f.read(t, "articles", "2024-01-01.html"))
	_, statErr := os.Stat(filepath.Join(f.dir, "articles", "2024-01-02.html"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Len(t, f.service.requests, 1+3, "default candidate has three attempts")
}

func TestSchemaIncompleteAbortsWithoutWrites(t *testing.T) {
	f := newFixture(t, reply(`{"title": "No body"}`))

	_, err := f.pipeline().Run(context.Background(), pipeline.RunOptions{})

	assert.True(t, errors.Is(err, apperrors.ErrSchemaIncomplete))
	_, statErr := os.Stat(f.cfg.History.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCorruptHistoryIsRecovered(t *testing.T) {
	f := newFixture(t, reply(column))
	require.NoError(t, os.WriteFile(f.cfg.History.Path, []byte("{not json"), 0o644))

	res, err := f.pipeline().Run(context.Background(), pipeline.RunOptions{})

	require.NoError(t, err)
	require.Len(t, res.Diagnostics, 1)
	assert.True(t, errors.Is(res.Diagnostics[0], apperrors.ErrStoreCorrupt))
	assert.Len(t, f.history(t), 1)
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t, reply(column))

	res, err := f.pipeline().Run(context.Background(), pipeline.RunOptions{DryRun: true})

	require.NoError(t, err)
	assert.Len(t, res.Documents, 2)
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type fakeFeeds struct{}

func (fakeFeeds) Collect(context.Context, []config.FeedSource, int) []feeder.RssFeedItem {
	return []feeder.RssFeedItem{{Source: "wire", Title: "Nikkei closes higher", Link: "https://example.com/a"}}
}

func (fakeFeeds) FetchLeadText(context.Context, string, int) (string, error) {
	return "Stocks rose on Monday.", nil
}

func TestResearchFeedsTheWritingPrompt(t *testing.T) {
	f := newFixture(t, func(req generator.Request) (string, error) {
		if req.GoogleSearch {
			return "Top story: Nikkei closes higher.", nil
		}
		return column, nil
	})
	f.cfg.Research.Enabled = true
	f.cfg.Research.Feeds = []config.FeedSource{{Name: "wire", RSSURL: "https://example.com/rss"}}
	f.cfg.Research.LeadArticle = true
	f.cfg.Research.Prompt = "Research {{.Date}}.\n{{.Headlines}}Lead: {{.Lead}}"
	f.cfg.Generation.Prompt = "RESEARCH DATA:\n{{.Research}}"

	_, err := f.pipeline(func(d *pipeline.Deps) { d.Feeds = fakeFeeds{} }).Run(context.Background(), pipeline.RunOptions{})

	require.NoError(t, err)
	require.Len(t, f.service.requests, 2)
	research, writing := f.service.requests[0], f.service.requests[1]
	assert.True(t, research.GoogleSearch)
	assert.Equal(t, "Research 2024-01-01.\n- [wire] Nikkei closes higher\nLead: Stocks rose on Monday.", research.Prompt)
	assert.Equal(t, "RESEARCH DATA:\nTop story: Nikkei closes higher.", writing.Prompt)
}

func TestRunLockBlocksConcurrentRun(t *testing.T) {
	f := newFixture(t, reply(column))
	f.cfg.History.LockFile = filepath.Join(f.dir, "publisher.lock")
	lock, err := pipeline.AcquireRunLock(f.cfg.History.LockFile)
	require.NoError(t, err)

	_, err = f.pipeline().Run(context.Background(), pipeline.RunOptions{})
	require.Error(t, err)
	assert.Empty(t, f.service.requests)

	require.NoError(t, lock.Release())
	_, err = f.pipeline().Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)
	_, statErr := os.Stat(f.cfg.History.LockFile)
	assert.True(t, os.IsNotExist(statErr), "lock released after the run")
}

func TestMetricsTextfileExported(t *testing.T) {
	f := newFixture(t, reply(column))
	f.cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "crimsonpen.prom")
	rec := metrics.NewPrometheusRecorder()

	_, err := f.pipeline(func(d *pipeline.Deps) { d.Recorder = rec }).Run(context.Background(), pipeline.RunOptions{})

	require.NoError(t, err)
	data, err := os.ReadFile(f.cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `crimsonpen_runs_total{outcome="success"} 1`))
	assert.True(t, strings.Contains(string(data), "crimsonpen_history_records 1"))
}

func TestMetricsTextfileSkippedOnFailedAndDryRuns(t *testing.T) {
	f := newFixture(t, reply(`{"title": "No body"}`))
	f.cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "crimsonpen.prom")
	rec := metrics.NewPrometheusRecorder()

	_, err := f.pipeline(func(d *pipeline.Deps) { d.Recorder = rec }).Run(context.Background(), pipeline.RunOptions{})

	require.Error(t, err)
	_, statErr := os.Stat(f.cfg.Metrics.Textfile)
	assert.True(t, os.IsNotExist(statErr), "failed run writes no metrics file")

	f.service.respond = reply(column)
	_, err = f.pipeline(func(d *pipeline.Deps) { d.Recorder = rec }).Run(context.Background(), pipeline.RunOptions{DryRun: true})

	require.NoError(t, err)
	_, statErr = os.Stat(f.cfg.Metrics.Textfile)
	assert.True(t, os.IsNotExist(statErr), "dry run writes no metrics file")
}

func TestRecordDateIsOwnedByPipeline(t *testing.T) {
	f := newFixture(t, reply(`{"date": "1999-12-31", "title": "t", "content": "c"}`))

	res, err := f.pipeline().Run(context.Background(), pipeline.RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, models.Record{Date: "2024-01-01", Fields: models.Fields{"title": "t", "content": "c"}}, res.Record)
}
