package source

import (
	"time"

	"veridano/repository"
)

// Source identifies one originating agency or framework.
type Source string

const (
	CISA       Source = "CISA"
	FBI        Source = "FBI"
	NIST       Source = "NIST"
	DHS        Source = "DHS"
	NSA        Source = "NSA"
	USCYBERCOM Source = "USCYBERCOM"
	WhiteHouse Source = "WHITE_HOUSE"
	NVD        Source = "NVD"
	ICSCERT    Source = "ICS_CERT"
	USCERT     Source = "US_CERT"
	FedRAMP    Source = "FEDRAMP"
)

// All lists every supported source.
var All = []Source{
	CISA, FBI, NIST, DHS, NSA, USCYBERCOM, WhiteHouse, NVD, ICSCERT, USCERT, FedRAMP,
}

// MinInterval is the minimum refresh interval per source. Advisory and
// vulnerability feeds update on an hourly class; policy sources daily.
var MinInterval = map[Source]time.Duration{
	CISA:       1 * time.Hour,
	NVD:        2 * time.Hour,
	ICSCERT:    4 * time.Hour,
	USCERT:     4 * time.Hour,
	FBI:        6 * time.Hour,
	NSA:        12 * time.Hour,
	DHS:        12 * time.Hour,
	NIST:       24 * time.Hour,
	USCYBERCOM: 24 * time.Hour,
	WhiteHouse: 24 * time.Hour,
	FedRAMP:    24 * time.Hour,
}

// Valid reports whether name matches a supported source.
func Valid(name string) bool {
	for _, s := range All {
		if string(s) == name {
			return true
		}
	}
	return false
}

// Parse converts a caller-supplied name into a Source.
func Parse(name string) (Source, error) {
	if !Valid(name) {
		return "", repository.ErrInvalidSource
	}
	return Source(name), nil
}
