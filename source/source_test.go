package source

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veridano/repository"
)

func TestParse(t *testing.T) {
	for _, s := range All {
		got, err := Parse(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	for _, name := range []string{"", "cisa", "INTERPOL", "WHITEHOUSE"} {
		_, err := Parse(name)
		assert.ErrorIs(t, err, repository.ErrInvalidSource, "name %q", name)
	}
}

func TestEverySourceHasAMinInterval(t *testing.T) {
	for _, s := range All {
		interval, ok := MinInterval[s]
		assert.True(t, ok, "source %s", s)
		assert.Positive(t, interval)
	}
}

func TestExtractBody(t *testing.T) {
	html := `<html><head><title>AA25-100A</title><style>.x{}</style></head>
<body>
<nav>Skip to content</nav>
<header>CISA</header>
<article>
<h1>Ransomware Advisory</h1>
<p>Threat actors are   exploiting a known vulnerability.</p>
<p>Apply vendor patches immediately.</p>
</article>
<footer>Official website of the U.S. government</footer>
</body></html>`

	pageURL, err := url.Parse("https://www.cisa.gov/news-events/cybersecurity-advisories/aa25-100a")
	require.NoError(t, err)

	body, err := extractBody(html, pageURL)
	require.NoError(t, err)
	assert.Contains(t, body, "exploiting a known vulnerability")
	assert.Contains(t, body, "Apply vendor patches")
	assert.NotContains(t, body, "Skip to content")
	assert.NotContains(t, body, ".x{}")
}

func TestCollapseWhitespace(t *testing.T) {
	got := collapseWhitespace("  one   two \n\n  three\t four  \n")
	assert.Equal(t, "one two\nthree four", got)
}
