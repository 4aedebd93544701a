package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"veridano/repository"
)

// cisaListings maps each advisory-family source to its listing path and
// the advisory URL prefix its detail links carry.
var cisaListings = map[Source]cisaSpec{
	CISA:    {listing: "/news-events/cybersecurity-advisories", detail: "/news-events/cybersecurity-advisories/", typeHint: "advisory", category: "cybersecurity"},
	ICSCERT: {listing: "/news-events/ics-advisories", detail: "/news-events/ics-advisories/", typeHint: "ics_advisory", category: "industrial_control_systems"},
	USCERT:  {listing: "/news-events/alerts", detail: "/news-events/alerts/", typeHint: "alert", category: "cybersecurity"},
}

type cisaSpec struct {
	listing  string
	detail   string
	typeHint string
	category string
}

// CISAAdapter walks the cisa.gov advisory listing pages for one advisory
// family and extracts each advisory's body from its detail page.
type CISAAdapter struct {
	source  Source
	baseURL string
	spec    cisaSpec
	client  *http.Client
	logger  *zap.Logger
}

func NewCISAAdapter(src Source, baseURL string, client *http.Client, logger *zap.Logger) (*CISAAdapter, error) {
	spec, ok := cisaListings[src]
	if !ok {
		return nil, repository.ErrInvalidSource
	}
	if baseURL == "" {
		baseURL = "https://www.cisa.gov"
	}
	return &CISAAdapter{
		source:  src,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		spec:    spec,
		client:  client,
		logger:  logger,
	}, nil
}

func (a *CISAAdapter) Source() Source { return a.source }

func (a *CISAAdapter) FetchRecent(ctx context.Context, since time.Time, maxDocuments int) ([]RawDocument, error) {
	if maxDocuments <= 0 {
		maxDocuments = 50
	}

	c := colly.NewCollector(
		colly.UserAgent("Veridano-Collector/1.0"),
		colly.StdlibContext(ctx),
	)
	if a.client != nil {
		c.SetClient(a.client)
	}
	c.SetRequestTimeout(30 * time.Second)
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       200 * time.Millisecond,
	})

	var (
		mu       sync.Mutex
		docs     []RawDocument
		fetchErr error
	)

	// Links are followed only from listing pages: advisory detail links and
	// the listing's own pager, each until the window is full.
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if e.Request.URL.Path != a.spec.listing {
			return
		}
		href := e.Attr("href")
		if !strings.HasPrefix(href, a.spec.detail) && !a.isPagerLink(href) {
			return
		}
		mu.Lock()
		full := len(docs) >= maxDocuments
		mu.Unlock()
		if full {
			return
		}
		if err := e.Request.Visit(href); err != nil {
			var visited *colly.AlreadyVisitedError
			if !errors.As(err, &visited) {
				a.logger.Debug("skip advisory link", zap.String("href", href), zap.Error(err))
			}
		}
	})

	c.OnResponse(func(r *colly.Response) {
		if !strings.HasPrefix(r.Request.URL.Path, a.spec.detail) ||
			strings.Trim(strings.TrimPrefix(r.Request.URL.Path, a.spec.detail), "/") == "" {
			return
		}
		doc, err := a.mapAdvisory(r.Request.URL, r.Body)
		if err != nil {
			a.logger.Warn("advisory parse failed",
				zap.String("url", r.Request.URL.String()), zap.Error(err))
			return
		}
		if doc.PublishedDate != nil && doc.PublishedDate.Before(since) {
			return
		}
		mu.Lock()
		if len(docs) < maxDocuments {
			docs = append(docs, doc)
		}
		mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		if r.Request.URL.Path == a.spec.listing {
			fetchErr = &repository.FetchError{
				Source: string(a.source), URL: r.Request.URL.String(), Err: err,
			}
			return
		}
		a.logger.Warn("advisory fetch failed",
			zap.String("url", r.Request.URL.String()), zap.Error(err))
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Visit(a.baseURL + a.spec.listing); err != nil {
		return nil, &repository.FetchError{Source: string(a.source), URL: a.baseURL + a.spec.listing, Err: err}
	}
	c.Wait()

	if fetchErr != nil && len(docs) == 0 {
		return nil, fetchErr
	}
	return docs, nil
}

// isPagerLink matches the listing's own pagination links ("?page=N" or the
// listing path with a page query).
func (a *CISAAdapter) isPagerLink(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	if u.Path != "" && u.Path != a.spec.listing {
		return false
	}
	return u.Query().Get("page") != ""
}

// mapAdvisory turns one detail page into a RawDocument. The advisory code in
// the final path segment (e.g. aa24-109a) becomes the stable identifier.
func (a *CISAAdapter) mapAdvisory(pageURL *url.URL, body []byte) (RawDocument, error) {
	segments := strings.Split(strings.Trim(pageURL.Path, "/"), "/")
	id := strings.ToUpper(segments[len(segments)-1])
	if id == "" {
		return RawDocument{}, fmt.Errorf("no advisory id in %s", pageURL.Path)
	}

	page, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return RawDocument{}, err
	}
	title := strings.TrimSpace(page.Find("h1").First().Text())

	var published *time.Time
	if datetime, ok := page.Find("time[datetime]").First().Attr("datetime"); ok {
		if ts, perr := time.Parse(time.RFC3339, datetime); perr == nil {
			published = &ts
		}
	}

	content, err := extractBody(string(body), pageURL)
	if err != nil {
		return RawDocument{}, err
	}

	md := map[string]string{"advisory_code": id, "category": a.spec.category}
	return RawDocument{
		ID:            id,
		Title:         title,
		Content:       content,
		URL:           pageURL.String(),
		PublishedDate: published,
		TypeHint:      a.spec.typeHint,
		Metadata:      md,
	}, nil
}
