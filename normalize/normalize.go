package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"veridano/repository"
	"veridano/source"
)

var spaceRe = regexp.MustCompile(`[ \t]+`)

// sourceCategories is the fallback classification when the adapter supplied
// no category hint.
var sourceCategories = map[source.Source]string{
	source.CISA:       "cybersecurity",
	source.FBI:        "law_enforcement",
	source.NIST:       "standards",
	source.DHS:        "policy",
	source.NSA:        "signals_intelligence",
	source.USCYBERCOM: "military",
	source.WhiteHouse: "executive",
	source.NVD:        "vulnerability",
	source.ICSCERT:    "industrial_control_systems",
	source.USCERT:     "cybersecurity",
	source.FedRAMP:    "compliance",
}

// Standardizer maps adapter output into the canonical document shape.
type Standardizer struct{}

func NewStandardizer() *Standardizer { return &Standardizer{} }

// Normalize cleans text, classifies the document, and computes the content
// hash. Documents missing both title and content are rejected.
func (s *Standardizer) Normalize(raw source.RawDocument, src source.Source) (repository.CanonicalDocument, error) {
	title := CleanText(raw.Title)
	content := CleanText(raw.Content)
	if title == "" && content == "" {
		return repository.CanonicalDocument{}, &repository.MalformedDocument{
			Source: string(src), ID: raw.ID, Reason: "missing both title and content",
		}
	}
	if raw.ID == "" {
		return repository.CanonicalDocument{}, &repository.MalformedDocument{
			Source: string(src), ID: raw.ID, Reason: "missing identifier",
		}
	}

	docType := raw.TypeHint
	if docType == "" {
		docType = "document"
	}

	md := make(map[string]string, len(raw.Metadata))
	for k, v := range raw.Metadata {
		md[k] = v
	}
	category := md["category"]
	delete(md, "category")
	if category == "" {
		category = sourceCategories[src]
	}

	return repository.CanonicalDocument{
		ID:            raw.ID,
		Source:        string(src),
		Title:         title,
		Content:       content,
		DocumentType:  docType,
		Category:      category,
		PublishedDate: raw.PublishedDate,
		URL:           raw.URL,
		ContentHash:   HashContent(content),
		Metadata:      md,
	}, nil
}

// CleanText trims, collapses runs of spaces, and drops empty lines.
func CleanText(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// HashContent fingerprints normalized content. The hash changes only when
// the content changes, which gates re-embedding.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
