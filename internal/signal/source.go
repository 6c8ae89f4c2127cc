// Package signal discovers candidate businesses from crawler exports and
// operator lists and normalizes their raw signals into feature vectors.
package signal

import (
	"context"
	"net/mail"
	"net/url"
	"strings"

	"github.com/sells-group/prospect-outreach/internal/model"
)

// Criteria narrows discovery. Empty slices match everything.
type Criteria struct {
	Industries []string `json:"industries,omitempty"`
	Regions    []string `json:"regions,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
}

// Source yields candidate prospects. Returned prospects carry no ID; the
// ingester assigns identity by website.
type Source interface {
	Name() string
	Discover(ctx context.Context, c Criteria) ([]model.Prospect, error)
}

func (c Criteria) matches(industry, region string) bool {
	return matchAny(c.Industries, industry) && matchAny(c.Regions, region)
}

func matchAny(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

// NormalizeWebsite lowercases the host, forces a scheme and drops the path's
// trailing slash so the same site always maps to one prospect. It returns ""
// for values that are not a usable host.
func NormalizeWebsite(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || !strings.Contains(u.Host, ".") {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimRight(u.Path, "/")
	return "https://" + host + path
}

// NormalizeEmail returns the bare lowercase address, or nil when the value is
// empty or unparseable.
func NormalizeEmail(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return nil
	}
	out := strings.ToLower(addr.Address)
	return &out
}

func normalizeLanguage(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "fr") {
		return "fr"
	}
	return "en"
}
