package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"veridano/repository"
)

const (
	nvdDefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	nvdPageSize       = 200
	nvdTimeFormat     = "2006-01-02T15:04:05.000"
)

// NVDAdapter pulls CVE records from the NIST NVD REST API, paginating with
// startIndex/resultsPerPage over a lastModStartDate window.
type NVDAdapter struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewNVDAdapter(baseURL string, client *http.Client, logger *zap.Logger) *NVDAdapter {
	if baseURL == "" {
		baseURL = nvdDefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &NVDAdapter{baseURL: baseURL, httpClient: client, logger: logger}
}

func (a *NVDAdapter) Source() Source { return NVD }

type nvdResponse struct {
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Published    string `json:"published"`
	LastModified string `json:"lastModified"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		CVSSMetricV31 []struct {
			CVSSData struct {
				BaseScore    float64 `json:"baseScore"`
				BaseSeverity string  `json:"baseSeverity"`
			} `json:"cvssData"`
		} `json:"cvssMetricV31"`
	} `json:"metrics"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
}

func (a *NVDAdapter) FetchRecent(ctx context.Context, since time.Time, maxDocuments int) ([]RawDocument, error) {
	if maxDocuments <= 0 {
		maxDocuments = nvdPageSize
	}
	var docs []RawDocument
	startIndex := 0
	for len(docs) < maxDocuments {
		page, total, err := a.fetchPage(ctx, since, startIndex)
		if err != nil {
			if len(docs) > 0 {
				// Keep what earlier pages yielded; the run records the error.
				a.logger.Warn("nvd pagination aborted",
					zap.Int("fetched", len(docs)), zap.Error(err))
				return docs, err
			}
			return nil, err
		}
		docs = append(docs, page...)
		startIndex += nvdPageSize
		if startIndex >= total || len(page) == 0 {
			break
		}
	}
	if len(docs) > maxDocuments {
		docs = docs[:maxDocuments]
	}
	return docs, nil
}

func (a *NVDAdapter) fetchPage(ctx context.Context, since time.Time, startIndex int) ([]RawDocument, int, error) {
	q := url.Values{}
	q.Set("lastModStartDate", since.UTC().Format(nvdTimeFormat))
	q.Set("lastModEndDate", time.Now().UTC().Format(nvdTimeFormat))
	q.Set("startIndex", strconv.Itoa(startIndex))
	q.Set("resultsPerPage", strconv.Itoa(nvdPageSize))
	reqURL := a.baseURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, &repository.FetchError{Source: string(NVD), URL: reqURL, Err: err}
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, &repository.FetchError{Source: string(NVD), URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, &repository.FetchError{
			Source: string(NVD), URL: reqURL,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var parsed nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, &repository.FetchError{Source: string(NVD), URL: reqURL, Err: err}
	}

	docs := make([]RawDocument, 0, len(parsed.Vulnerabilities))
	for _, v := range parsed.Vulnerabilities {
		doc, err := mapCVE(v.CVE)
		if err != nil {
			a.logger.Warn("skipping cve record", zap.String("cve", v.CVE.ID), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, parsed.TotalResults, nil
}

func mapCVE(cve nvdCVE) (RawDocument, error) {
	if cve.ID == "" {
		return RawDocument{}, fmt.Errorf("missing cve id")
	}
	var description string
	for _, d := range cve.Descriptions {
		if d.Lang == "en" {
			description = d.Value
			break
		}
	}

	md := map[string]string{"cve_id": cve.ID}
	if len(cve.Metrics.CVSSMetricV31) > 0 {
		data := cve.Metrics.CVSSMetricV31[0].CVSSData
		md["cvss_score"] = strconv.FormatFloat(data.BaseScore, 'f', 1, 64)
		md["severity"] = data.BaseSeverity
	}

	var published *time.Time
	if ts, err := time.Parse(nvdTimeFormat, cve.Published); err == nil {
		published = &ts
	}

	refURL := "https://nvd.nist.gov/vuln/detail/" + cve.ID
	if len(cve.References) > 0 && strings.HasPrefix(cve.References[0].URL, "http") {
		md["reference"] = cve.References[0].URL
	}

	return RawDocument{
		ID:            cve.ID,
		Title:         cve.ID,
		Content:       description,
		URL:           refURL,
		PublishedDate: published,
		TypeHint:      "vulnerability",
		Metadata:      md,
	}, nil
}
