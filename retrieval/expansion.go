package retrieval

import (
	"strings"
	"unicode"
)

// acronyms is the fixed expansion table applied to query text before
// embedding. Expansions append to the original token so exact matches on
// the abbreviation keep working.
var acronyms = map[string]string{
	"apt":  "advanced persistent threat",
	"c2":   "command and control",
	"cisa": "cybersecurity and infrastructure security agency",
	"cve":  "common vulnerabilities and exposures",
	"edr":  "endpoint detection and response",
	"ics":  "industrial control system",
	"ioc":  "indicator of compromise",
	"kev":  "known exploited vulnerability",
	"mfa":  "multi-factor authentication",
	"nvd":  "national vulnerability database",
	"ot":   "operational technology",
	"rce":  "remote code execution",
	"siem": "security information and event management",
	"ttp":  "tactics techniques and procedures",
	"vpn":  "virtual private network",
}

// ExpandQuery rewrites known abbreviations into their expanded forms. The
// table is fixed, so expansion is deterministic for a given input.
func ExpandQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if expansion, ok := acronyms[strings.ToLower(trimmed)]; ok {
			out = append(out, field+" "+expansion)
			continue
		}
		out = append(out, field)
	}
	return strings.Join(out, " ")
}
