package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"veridano/repository"
)

const nvdFixture = `{
  "totalResults": 2,
  "vulnerabilities": [
    {
      "cve": {
        "id": "CVE-2025-12345",
        "published": "2025-06-01T10:00:00.000",
        "lastModified": "2025-06-02T08:30:00.000",
        "descriptions": [
          {"lang": "es", "value": "desbordamiento"},
          {"lang": "en", "value": "Heap overflow in the parser allows remote code execution."}
        ],
        "metrics": {
          "cvssMetricV31": [
            {"cvssData": {"baseScore": 9.8, "baseSeverity": "CRITICAL"}}
          ]
        },
        "references": [{"url": "https://vendor.example/advisory"}]
      }
    },
    {
      "cve": {
        "id": "CVE-2025-12346",
        "published": "2025-06-01T11:00:00.000",
        "descriptions": [{"lang": "en", "value": "Authentication bypass."}]
      }
    }
  ]
}`

func TestNVDFetchRecent(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"lastModStartDate": r.URL.Query().Get("lastModStartDate"),
			"startIndex":       r.URL.Query().Get("startIndex"),
			"resultsPerPage":   r.URL.Query().Get("resultsPerPage"),
		}
		fmt.Fprint(w, nvdFixture)
	}))
	defer srv.Close()

	a := NewNVDAdapter(srv.URL, srv.Client(), zap.NewNop())
	since := time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC)
	docs, err := a.FetchRecent(context.Background(), since, 100)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "2025-05-25T00:00:00.000", gotQuery["lastModStartDate"])
	assert.Equal(t, "0", gotQuery["startIndex"])
	assert.Equal(t, strconv.Itoa(nvdPageSize), gotQuery["resultsPerPage"])

	first := docs[0]
	assert.Equal(t, "CVE-2025-12345", first.ID)
	assert.Equal(t, "CVE-2025-12345", first.Title)
	assert.Equal(t, "Heap overflow in the parser allows remote code execution.", first.Content)
	assert.Equal(t, "https://nvd.nist.gov/vuln/detail/CVE-2025-12345", first.URL)
	assert.Equal(t, "vulnerability", first.TypeHint)
	assert.Equal(t, "9.8", first.Metadata["cvss_score"])
	assert.Equal(t, "CRITICAL", first.Metadata["severity"])
	assert.Equal(t, "https://vendor.example/advisory", first.Metadata["reference"])
	require.NotNil(t, first.PublishedDate)
	assert.Equal(t, 2025, first.PublishedDate.Year())

	// Record without metrics still maps.
	second := docs[1]
	assert.Equal(t, "CVE-2025-12346", second.ID)
	assert.NotContains(t, second.Metadata, "cvss_score")
}

func TestNVDFetchRecentCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, nvdFixture)
	}))
	defer srv.Close()

	a := NewNVDAdapter(srv.URL, srv.Client(), zap.NewNop())
	docs, err := a.FetchRecent(context.Background(), time.Now().Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestNVDFetchRecentServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewNVDAdapter(srv.URL, srv.Client(), zap.NewNop())
	_, err := a.FetchRecent(context.Background(), time.Now().Add(-time.Hour), 10)
	var fetchErr *repository.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "NVD", fetchErr.Source)
}

func TestNVDSkipsRecordsWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"totalResults": 1, "vulnerabilities": [{"cve": {"id": ""}}]}`)
	}))
	defer srv.Close()

	a := NewNVDAdapter(srv.URL, srv.Client(), zap.NewNop())
	docs, err := a.FetchRecent(context.Background(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
