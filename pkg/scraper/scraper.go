package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/recall/internal/models"
	"golang.org/x/time/rate"
)

type ScraperConfig struct {
	ListURL         string  // JSON endpoint listing the author's articles
	ArticleBaseURL  string  // prefix joined with each article's contentId
	ContentSelector string  // element holding the article body
	RateLimit       float64 // requests per second
	Timeout         time.Duration
	UserAgent       string
	OnProgress      func(url string)
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
}

type listResponse struct {
	Data *struct {
		List []json.RawMessage `json:"list"`
	} `json:"data"`
}

// listEntry is one article in the list endpoint. contentId arrives as
// either a string or a number.
type listEntry struct {
	Title       string          `json:"title"`
	ContentID   json.RawMessage `json:"contentId"`
	SubTitle    string          `json:"subTitle"`
	PublishTime int64           `json:"publishTime"` // unix millis
	Thumbnail   string          `json:"thumbnail"`
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 1 // one request per second by default
	}
	if config.ContentSelector == "" {
		config.ContentSelector = ".wrap_body"
	}
	if config.UserAgent == "" {
		config.UserAgent = "recall-crawler/1.0"
	}

	if _, err := url.Parse(config.ListURL); err != nil {
		return nil, fmt.Errorf("invalid list url: %w", err)
	}
	if _, err := url.Parse(config.ArticleBaseURL); err != nil {
		return nil, fmt.Errorf("invalid article base url: %w", err)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

func (s *Scraper) get(ctx context.Context, urlStr string) (*http.Response, error) {
	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}
	return resp, nil
}

// FetchArticleList returns the articles advertised by the list endpoint.
func (s *Scraper) FetchArticleList(ctx context.Context) ([]models.Document, error) {
	resp, err := s.get(ctx, s.config.ListURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article list: %w", err)
	}
	defer resp.Body.Close()

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode article list: %w", err)
	}
	if body.Data == nil || body.Data.List == nil {
		return nil, fmt.Errorf("invalid API response structure")
	}

	docs := make([]models.Document, 0, len(body.Data.List))
	for _, raw := range body.Data.List {
		var entry listEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Printf("[crawl] skipping malformed list entry: %v", err)
			continue
		}

		id := strings.Trim(string(entry.ContentID), `"`)
		if id == "" || id == "null" {
			log.Printf("[crawl] skipping %q: no content id", entry.Title)
			continue
		}

		doc := models.Document{
			Title: strings.TrimSpace(entry.Title),
			URL:   s.articleURL(id),
		}
		if entry.SubTitle != "" {
			sub := entry.SubTitle
			doc.SubTitle = &sub
		}
		if entry.Thumbnail != "" {
			thumb := entry.Thumbnail
			doc.Thumbnail = &thumb
		}
		if entry.PublishTime > 0 {
			published := time.UnixMilli(entry.PublishTime).UTC()
			doc.Date = &published
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

func (s *Scraper) articleURL(id string) string {
	return strings.TrimSuffix(s.config.ArticleBaseURL, "/") + "/" + id
}

// FetchArticleContent downloads an article page and returns its body text,
// one block per paragraph, separated by blank lines.
func (s *Scraper) FetchArticleContent(ctx context.Context, urlStr string) (string, error) {
	resp, err := s.get(ctx, urlStr)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	return s.extractMainContent(doc), nil
}

func (s *Scraper) extractMainContent(doc *goquery.Document) string {
	// Try the configured body first, then common content areas
	selectors := []string{
		s.config.ContentSelector,
		"main",
		"article",
		".content",
		"#content",
	}

	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			if content := collectBlocks(selected.First()); content != "" {
				return content
			}
		}
	}

	// Fallback to body if no main content found
	return collectBlocks(doc.Find("body"))
}

func collectBlocks(sel *goquery.Selection) string {
	var blocks []string
	sel.Find("p, h1, h2, h3, h4, li").Each(func(_ int, block *goquery.Selection) {
		if text := cleanContent(block.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	return strings.Join(blocks, "\n\n")
}

func cleanContent(content string) string {
	// Remove extra whitespace
	return strings.TrimSpace(strings.Join(strings.Fields(content), " "))
}

// Scrape fetches the article list and then each article. Articles that fail
// to download are logged and skipped; a failing list is an error.
func (s *Scraper) Scrape(ctx context.Context) ([]models.Document, error) {
	list, err := s.FetchArticleList(ctx)
	if err != nil {
		return nil, err
	}

	documents := make([]models.Document, 0, len(list))
	for _, doc := range list {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, err := s.FetchArticleContent(ctx, doc.URL)
		if s.config.OnProgress != nil {
			s.config.OnProgress(doc.URL)
		}
		if err != nil {
			log.Printf("[crawl] failed to crawl %s: %v", doc.URL, err)
			continue
		}

		doc.Content = content
		documents = append(documents, doc)
	}

	return documents, nil
}
