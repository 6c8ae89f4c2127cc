package signal

import "math"

// Feature names produced by the sources.
const (
	FeatureNoAutoresponder  = "no_autoresponder"
	FeatureSlowResponse     = "slow_response"
	FeatureHasContactForm   = "has_contact_form"
	FeatureWeakSitePresence = "weak_site_presence"
	FeatureIndustryFit      = "industry_fit"
)

// slowResponseCeiling is the response time treated as maximally slow.
const slowResponseCeiling = 24 * 60.0

// RawSignals are the unnormalized observations about one business.
type RawSignals struct {
	FormURL          string
	Tested           bool     // a contact-form test was submitted
	HasAutoresponder bool
	ResponseMinutes  *float64 // nil when no reply arrived
	SiteScore        *float64 // 0-100 crawler site quality, nil when unknown
	Industry         string
}

// Features normalizes raw signals into [0,1]. A signal that was never
// observed is left out so scoring can impute it.
func Features(raw RawSignals, c Criteria) map[string]float64 {
	f := make(map[string]float64, 5)

	if raw.FormURL != "" {
		f[FeatureHasContactForm] = 1
	} else {
		f[FeatureHasContactForm] = 0
	}

	if raw.Tested {
		if raw.HasAutoresponder {
			f[FeatureNoAutoresponder] = 0
		} else {
			f[FeatureNoAutoresponder] = 1
		}
		if raw.ResponseMinutes == nil {
			f[FeatureSlowResponse] = 1
		} else {
			f[FeatureSlowResponse] = math.Min(math.Max(*raw.ResponseMinutes, 0)/slowResponseCeiling, 1)
		}
	}

	if raw.SiteScore != nil {
		f[FeatureWeakSitePresence] = 1 - math.Min(math.Max(*raw.SiteScore, 0), 100)/100
	}

	if len(c.Industries) > 0 && raw.Industry != "" {
		if matchAny(c.Industries, raw.Industry) {
			f[FeatureIndustryFit] = 1
		} else {
			f[FeatureIndustryFit] = 0
		}
	}
	return f
}
