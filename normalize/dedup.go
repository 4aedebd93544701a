package normalize

import (
	"crypto/sha256"
	"encoding/hex"

	"veridano/repository"
)

// signaturePrefixLen bounds the content prefix hashed for near-duplicate
// detection. Agencies frequently republish an advisory with an appended
// update note; the shared prefix still identifies the pair.
const signaturePrefixLen = 512

// Deduplicator decides whether a candidate collapses into an existing
// document of the same source. Cross-source matches are never duplicates;
// agencies legitimately republish related but distinct content, and those
// pairs surface through correlation instead.
type Deduplicator struct{}

func NewDeduplicator() *Deduplicator { return &Deduplicator{} }

// IsDuplicate applies, in order: same-source id match, content hash match,
// and a shared content-prefix signature. Both content paths require
// non-empty content: title-only documents all hash the empty string, and
// collapsing them would destroy distinct items.
func (d *Deduplicator) IsDuplicate(candidate, existing *repository.CanonicalDocument) bool {
	if candidate.Source != existing.Source {
		return false
	}
	if candidate.ID == existing.ID {
		return true
	}
	if candidate.Content == "" || existing.Content == "" {
		return false
	}
	if candidate.ContentHash != "" && candidate.ContentHash == existing.ContentHash {
		return true
	}
	return Signature(candidate.Content) == Signature(existing.Content)
}

// Merge folds the newer candidate's metadata and url into the existing
// record. Candidate values win on key conflicts; nothing else is touched.
func (d *Deduplicator) Merge(existing *repository.CanonicalDocument, candidate *repository.CanonicalDocument) {
	if candidate.URL != "" {
		existing.URL = candidate.URL
	}
	if len(candidate.Metadata) == 0 {
		return
	}
	if existing.Metadata == nil {
		existing.Metadata = make(map[string]string, len(candidate.Metadata))
	}
	for k, v := range candidate.Metadata {
		existing.Metadata[k] = v
	}
}

// Signature hashes the first signaturePrefixLen runes of content.
func Signature(content string) string {
	runes := []rune(content)
	if len(runes) > signaturePrefixLen {
		runes = runes[:signaturePrefixLen]
	}
	sum := sha256.Sum256([]byte(string(runes)))
	return hex.EncodeToString(sum[:16])
}
