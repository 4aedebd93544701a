package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veridano/repository"
	"veridano/source"
)

func TestNormalize(t *testing.T) {
	published := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		raw     source.RawDocument
		src     source.Source
		wantErr bool
	}{
		{
			name: "complete advisory",
			raw: source.RawDocument{
				ID:            "AA25-100A",
				Title:         "  Ransomware   Campaign  ",
				Content:       "Threat actors are exploiting\n\n  a known vulnerability.  ",
				URL:           "https://www.cisa.gov/news-events/cybersecurity-advisories/aa25-100a",
				PublishedDate: &published,
				TypeHint:      "advisory",
				Metadata:      map[string]string{"advisory_code": "AA25-100A", "category": "cybersecurity"},
			},
			src: source.CISA,
		},
		{
			name: "missing title and content",
			raw: source.RawDocument{
				ID: "AA25-101A",
			},
			src:     source.CISA,
			wantErr: true,
		},
		{
			name: "missing id",
			raw: source.RawDocument{
				Title:   "Untracked bulletin",
				Content: "body",
			},
			src:     source.DHS,
			wantErr: true,
		},
		{
			name: "title only is accepted",
			raw: source.RawDocument{
				ID:    "brief-42",
				Title: "Joint advisory on ICS intrusions",
			},
			src: source.ICSCERT,
		},
	}

	s := NewStandardizer()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := s.Normalize(tc.raw, tc.src)
			if tc.wantErr {
				var malformed *repository.MalformedDocument
				require.ErrorAs(t, err, &malformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, string(tc.src), doc.Source)
			assert.NotEmpty(t, doc.ContentHash)
			assert.NotContains(t, doc.Title, "  ")
		})
	}
}

func TestNormalizeAssignsCategory(t *testing.T) {
	s := NewStandardizer()

	doc, err := s.Normalize(source.RawDocument{
		ID: "CVE-2025-0001", Title: "CVE-2025-0001", Content: "A flaw.",
	}, source.NVD)
	require.NoError(t, err)
	assert.Equal(t, "vulnerability", doc.Category)

	doc, err = s.Normalize(source.RawDocument{
		ID: "x", Title: "t", Content: "c",
		Metadata: map[string]string{"category": "custom"},
	}, source.NVD)
	require.NoError(t, err)
	assert.Equal(t, "custom", doc.Category)
	_, hintRetained := doc.Metadata["category"]
	assert.False(t, hintRetained)
}

func TestContentHashStability(t *testing.T) {
	s := NewStandardizer()

	first, err := s.Normalize(source.RawDocument{ID: "a", Title: "t", Content: "same   content"}, source.CISA)
	require.NoError(t, err)
	second, err := s.Normalize(source.RawDocument{ID: "a", Title: "different title", Content: "same content"}, source.CISA)
	require.NoError(t, err)

	// Hash depends on content only, and whitespace normalization runs first.
	assert.Equal(t, first.ContentHash, second.ContentHash)

	changed, err := s.Normalize(source.RawDocument{ID: "a", Title: "t", Content: "other content"}, source.CISA)
	require.NoError(t, err)
	assert.NotEqual(t, first.ContentHash, changed.ContentHash)
}

func TestCleanText(t *testing.T) {
	got := CleanText("  line one  \n\n\t line\ttwo \n   \n")
	assert.Equal(t, "line one\nline two", got)
}
