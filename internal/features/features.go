// Package features extracts the lexical feature vector a URL is scored on.
// The detection core treats the vector as opaque; this package is the only
// place that knows how the values are derived.
package features

import (
	"math"
	"net/url"
	"regexp"
	"strings"

	"phishguard/internal/models"
)

// Canonical feature order. Training and prediction both rely on it.
const (
	FeatDomainAge    = "domain_age_days"
	FeatTLSValid     = "tls_valid"
	FeatRedirects    = "redirect_count"
	FeatSuspiciousJS = "suspicious_js"
	FeatURLLength    = "url_length"
	FeatDotCount     = "dot_count"
	FeatHyphenCount  = "hyphen_count"
	FeatDigitRatio   = "digit_ratio"
	FeatHasAt        = "has_at"
	FeatEntropy      = "entropy"
)

// Names lists every feature in extraction order.
var Names = []string{
	FeatDomainAge, FeatTLSValid, FeatRedirects, FeatSuspiciousJS,
	FeatURLLength, FeatDotCount, FeatHyphenCount, FeatDigitRatio,
	FeatHasAt, FeatEntropy,
}

var suspiciousTLDs = []string{
	".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top",
	".click", ".work", ".zip", ".link",
}

var suspiciousKeywords = []string{
	"login", "verify", "secure", "account",
	"bank", "update", "signin", "confirm",
}

var digitRe = regexp.MustCompile(`\d`)

// Extract derives the lexical feature vector from a raw URL. It never
// touches the network; domain age is an offline estimate from TLD and
// lexical shape.
func Extract(raw string) models.FeatureVector {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}

	parsed, err := url.Parse(raw)
	domain := ""
	scheme := ""
	if err == nil {
		domain = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
		scheme = parsed.Scheme
	}

	tlsValid := 0.0
	if scheme == "https" {
		tlsValid = 1.0
	}

	lower := strings.ToLower(raw)
	suspiciousJS := 0.0
	for _, k := range suspiciousKeywords {
		if strings.Contains(lower, k) {
			suspiciousJS = 1.0
			break
		}
	}

	digitRatio := 0.0
	if len(raw) > 0 {
		digits := 0
		for _, c := range raw {
			if c >= '0' && c <= '9' {
				digits++
			}
		}
		digitRatio = float64(digits) / float64(len(raw))
	}

	hasAt := 0.0
	if strings.Contains(raw, "@") {
		hasAt = 1.0
	}

	return models.FeatureVector{
		{Name: FeatDomainAge, Value: float64(estimateDomainAge(domain))},
		{Name: FeatTLSValid, Value: tlsValid},
		{Name: FeatRedirects, Value: float64(strings.Count(lower, "http"))},
		{Name: FeatSuspiciousJS, Value: suspiciousJS},
		{Name: FeatURLLength, Value: float64(len(raw))},
		{Name: FeatDotCount, Value: float64(strings.Count(raw, "."))},
		{Name: FeatHyphenCount, Value: float64(strings.Count(raw, "-"))},
		{Name: FeatDigitRatio, Value: digitRatio},
		{Name: FeatHasAt, Value: hasAt},
		{Name: FeatEntropy, Value: shannonEntropy(raw)},
	}
}

// estimateDomainAge is an offline registration-age estimate in days.
// Abused TLDs look brand new, random-looking domains look recent, anything
// else looks established.
func estimateDomainAge(domain string) int {
	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(domain, tld) {
			return 5
		}
	}
	if strings.Contains(domain, "-") || digitRe.MatchString(domain) {
		return 30
	}
	return 180
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, c := range s {
		counts[c]++
	}
	entropy := 0.0
	n := float64(len([]rune(s)))
	for _, count := range counts {
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
