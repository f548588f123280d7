package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractOrderAndCompleteness(t *testing.T) {
	fv := Extract("https://example.com/welcome")
	require.Len(t, fv, len(Names))
	for i, name := range Names {
		assert.Equal(t, name, fv[i].Name, "feature order must match Names")
	}
}

func TestExtractTLS(t *testing.T) {
	fv := Extract("https://example.com")
	v, ok := fv.Get(FeatTLSValid)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	fv = Extract("http://example.com")
	v, _ = fv.Get(FeatTLSValid)
	assert.Equal(t, 0.0, v)

	// No scheme defaults to http.
	fv = Extract("example.com")
	v, _ = fv.Get(FeatTLSValid)
	assert.Equal(t, 0.0, v)
}

func TestExtractSuspiciousKeyword(t *testing.T) {
	fv := Extract("https://example.com/verify-account")
	v, _ := fv.Get(FeatSuspiciousJS)
	assert.Equal(t, 1.0, v)

	fv = Extract("https://example.com/pricing")
	v, _ = fv.Get(FeatSuspiciousJS)
	assert.Equal(t, 0.0, v)
}

func TestExtractLexicalCounts(t *testing.T) {
	raw := "https://a-b-c.example.com/x@1"
	fv := Extract(raw)

	length, _ := fv.Get(FeatURLLength)
	assert.Equal(t, float64(len(raw)), length)

	dots, _ := fv.Get(FeatDotCount)
	assert.Equal(t, 2.0, dots)

	hyphens, _ := fv.Get(FeatHyphenCount)
	assert.Equal(t, 2.0, hyphens)

	hasAt, _ := fv.Get(FeatHasAt)
	assert.Equal(t, 1.0, hasAt)
}

func TestExtractDigitRatio(t *testing.T) {
	fv := Extract("http://1234.com") // 4 digits out of 15 characters
	v, _ := fv.Get(FeatDigitRatio)
	assert.InDelta(t, 4.0/15.0, v, 1e-9)
}

func TestDomainAgeEstimate(t *testing.T) {
	assert.Equal(t, 5, estimateDomainAge("free-prizes.tk"), "abused TLD looks brand new")
	assert.Equal(t, 30, estimateDomainAge("paypa1-secure.com"), "digits and hyphens look recent")
	assert.Equal(t, 180, estimateDomainAge("example.com"), "plain domain looks established")
}

func TestShannonEntropy(t *testing.T) {
	assert.Equal(t, 0.0, shannonEntropy(""))
	assert.Equal(t, 0.0, shannonEntropy("aaaa"), "uniform string carries no information")
	assert.InDelta(t, 1.0, shannonEntropy("abab"), 1e-9, "two equiprobable symbols = 1 bit")
	assert.Greater(t, shannonEntropy("x9f2kq7vz3"), shannonEntropy("aaabbb"))
}
