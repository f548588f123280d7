package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"phishguard/internal/models"
)

// Probe failures are never fatal to a detection request; the combiner
// degrades to ML-only on either of these.
var (
	ErrProbeUnavailable = errors.New("advanced analysis probe unavailable")
	ErrProbeTimeout     = errors.New("advanced analysis probe timed out")
)

// Analyzer scores a URL with network-dependent signals. Score is in [0,1],
// 1 leaning phishing. Implementations must respect ctx deadlines.
type Analyzer interface {
	Score(ctx context.Context, rawURL string) (models.AdvancedScore, error)
}

// ProbeAnalyzer combines a TLS certificate probe and a page content probe
// into one advanced score. Sub-probe weights: TLS 0.4, content 0.6.
type ProbeAnalyzer struct {
	client    *http.Client
	tlsDialer *tls.Dialer
}

// Keyword weights for the content probe. Positive leans phishing, the
// legitimate set subtracts.
var phishingKeywords = map[string]float64{
	"verify": 3, "confirm": 3, "validate": 3,
	"update": 2, "upgrade": 2,
	"login": 1, "signin": 1, "account": 1,
	"password": 2, "credential": 2,
	"urgent": 3, "expire": 2,
	"click here": 2, "click now": 2,
}

var legitimateKeywords = map[string]float64{
	"privacy": 2, "terms": 2, "about": 2,
	"contact": 1, "help": 1, "faq": 1,
	"blog": 1, "news": 1, "documentation": 2,
	"security": 1,
}

func NewProbeAnalyzer(timeout time.Duration) *ProbeAnalyzer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProbeAnalyzer{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		tlsDialer: &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: timeout},
			Config:    &tls.Config{InsecureSkipVerify: true}, // probed sites are suspects; scoring handles invalid chains
		},
	}
}

// Score runs both probes. Individual probe failures produce neutral
// sub-scores; only a dead network context surfaces as a probe error.
func (a *ProbeAnalyzer) Score(ctx context.Context, rawURL string) (models.AdvancedScore, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return models.AdvancedScore{}, fmt.Errorf("%w: unparseable URL", ErrProbeUnavailable)
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	tlsScore, tlsProbe := a.probeTLS(ctx, host)
	contentScore, contentProbe := a.probeContent(ctx, rawURL)

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.AdvancedScore{}, ErrProbeTimeout
		}
		return models.AdvancedScore{}, fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
	}

	return models.AdvancedScore{
		Score:  0.4*tlsScore + 0.6*contentScore,
		Status: "analyzed",
		Details: map[string]models.Probe{
			"tls":     tlsProbe,
			"content": contentProbe,
		},
	}, nil
}

// probeTLS checks whether the host serves a certificate that matches it and
// has not expired. Missing HTTPS entirely is a strong phishing lean.
func (a *ProbeAnalyzer) probeTLS(ctx context.Context, host string) (float64, models.Probe) {
	conn, err := a.tlsDialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "443"))
	if err != nil {
		if ctx.Err() != nil {
			return 0.5, models.Probe{Score: 0.5, Status: "timeout"}
		}
		return 0.7, models.Probe{Score: 0.7, Status: "no_https", Detail: err.Error()}
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok || len(tlsConn.ConnectionState().PeerCertificates) == 0 {
		return 0.8, models.Probe{Score: 0.8, Status: "no_cert"}
	}
	cert := tlsConn.ConnectionState().PeerCertificates[0]

	now := time.Now()
	if now.After(cert.NotAfter) {
		return 0.9, models.Probe{Score: 0.9, Status: "expired", Detail: cert.NotAfter.Format(time.RFC3339)}
	}
	if err := cert.VerifyHostname(host); err != nil {
		return 0.85, models.Probe{Score: 0.85, Status: "domain_mismatch", Detail: err.Error()}
	}
	if daysLeft := cert.NotAfter.Sub(now).Hours() / 24; daysLeft < 30 {
		return 0.4, models.Probe{Score: 0.4, Status: "expiring_soon", Detail: fmt.Sprintf("%.0f days left", daysLeft)}
	}
	return 0.1, models.Probe{Score: 0.1, Status: "valid", Detail: cert.NotAfter.Format(time.RFC3339)}
}

// probeContent fetches the page and scores phishing indicators: password
// forms, keyword balance, meta refresh.
func (a *ProbeAnalyzer) probeContent(ctx context.Context, rawURL string) (float64, models.Probe) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0.3, models.Probe{Score: 0.3, Status: "fetch_failed", Detail: err.Error()}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0.4, models.Probe{Score: 0.4, Status: "timeout"}
		}
		return 0.3, models.Probe{Score: 0.3, Status: "fetch_failed", Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0.3, models.Probe{Score: 0.3, Status: "read_failed", Detail: err.Error()}
	}
	html := strings.ToLower(string(body))

	score := 0.0
	var indicators []string

	if strings.Contains(html, `type="password"`) || strings.Contains(html, `type='password'`) {
		score += 0.15
		indicators = append(indicators, "password form")
	}

	suspicious := 0.0
	for keyword, weight := range phishingKeywords {
		if strings.Contains(html, keyword) {
			suspicious += weight
		}
	}
	if suspicious > 0 {
		if kw := suspicious / 10; kw < 0.3 {
			score += kw
		} else {
			score += 0.3
		}
		indicators = append(indicators, "phishing keywords")
	}

	legit := 0.0
	for keyword, weight := range legitimateKeywords {
		if strings.Contains(html, keyword) {
			legit += weight
		}
	}
	if legit > 0 {
		score -= legit / 20
		if score < 0 {
			score = 0
		}
	}

	if strings.Contains(html, `http-equiv="refresh"`) {
		score += 0.15
		indicators = append(indicators, "meta refresh")
	}
	if strings.Count(html, "<iframe") > 3 {
		score += 0.1
		indicators = append(indicators, "many iframes")
	}

	if score > 1 {
		score = 1
	}
	return score, models.Probe{Score: score, Status: "analyzed", Detail: strings.Join(indicators, ", ")}
}
