package source

import (
	"net/http"

	"go.uber.org/zap"
)

// Endpoints overrides the default external endpoints, primarily for tests
// and air-gapped mirrors. Empty fields keep the published defaults.
type Endpoints struct {
	CISABaseURL string
	NVDBaseURL  string
	FeedURLs    map[Source]string
}

// BuildAdapters constructs one adapter per supported source.
func BuildAdapters(ep Endpoints, client *http.Client, logger *zap.Logger) (map[Source]Adapter, error) {
	adapters := make(map[Source]Adapter, len(All))

	for _, src := range []Source{CISA, ICSCERT, USCERT} {
		a, err := NewCISAAdapter(src, ep.CISABaseURL, client, logger)
		if err != nil {
			return nil, err
		}
		adapters[src] = a
	}

	adapters[NVD] = NewNVDAdapter(ep.NVDBaseURL, client, logger)

	for src := range feedEndpoints {
		a, err := NewFeedAdapter(src, ep.FeedURLs[src], client, logger)
		if err != nil {
			return nil, err
		}
		adapters[src] = a
	}
	return adapters, nil
}
