package feeder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"crimson-pen/config"
)

const defaultTimeout = 20 * time.Second

type RssFeedItem struct {
	Source      string
	Title       string
	Link        string
	PublishedAt time.Time
}

// Feeder collects research context (headlines and a lead article) from RSS sources.
type Feeder struct {
	client *http.Client
}

func New(client *http.Client) *Feeder {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Feeder{client: client}
}

// FetchRssFeeds fetches RSS feeds from the given URL.
// If limit is greater than 0, it returns only the first limit items.
func (f *Feeder) FetchRssFeeds(ctx context.Context, source config.FeedSource, limit int) ([]RssFeedItem, error) {
	fp := gofeed.NewParser()
	fp.Client = f.client

	feed, err := fp.ParseURLWithContext(source.RSSURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", source.RSSURL, err)
	}

	name := source.Name
	if name == "" {
		name = feed.Title
	}

	var items []RssFeedItem
	for _, item := range feed.Items {
		var published time.Time
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}

		items = append(items, RssFeedItem{
			Source:      name,
			Title:       strings.TrimSpace(item.Title),
			Link:        item.Link,
			PublishedAt: published,
		})
	}

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	return items, nil
}

// Collect fetches every source in order. A failing source is logged and skipped.
func (f *Feeder) Collect(ctx context.Context, sources []config.FeedSource, limit int) []RssFeedItem {
	var all []RssFeedItem
	for _, src := range sources {
		items, err := f.FetchRssFeeds(ctx, src, limit)
		if err != nil {
			config.WarnWithFields("research feed skipped", config.Fields{
				"source": src.Name,
				"url":    src.RSSURL,
				"error":  err.Error(),
			})
			continue
		}
		all = append(all, items...)
	}
	return all
}

// FetchLeadText downloads an article and returns its readable text,
// cut to maxChars runes when maxChars > 0.
func (f *Feeder) FetchLeadText(ctx context.Context, link string, maxChars int) (string, error) {
	pageURL, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse article url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch article %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch article %s: status %d", link, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse article html: %w", err)
	}
	article, err := readability.FromDocument(doc, pageURL)
	if err != nil {
		return "", fmt.Errorf("extract article text: %w", err)
	}
	return truncateRunes(collapseSpace(article.TextContent), maxChars), nil
}

// FormatHeadlines renders items as a bullet list for prompt templates.
func FormatHeadlines(items []RssFeedItem) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		if it.Source != "" {
			b.WriteString("[")
			b.WriteString(it.Source)
			b.WriteString("] ")
		}
		b.WriteString(it.Title)
		if !it.PublishedAt.IsZero() {
			b.WriteString(" (")
			b.WriteString(it.PublishedAt.UTC().Format("2006-01-02"))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
