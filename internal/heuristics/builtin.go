package heuristics

import (
	"regexp"
	"time"

	"github.com/formsentry/formsentry/api/schemas"
	"github.com/formsentry/formsentry/internal/domainutil"
)

// Correlation windows used by the built-in rules, relative to the request
// timestamp. D001's window is deliberately tight: legitimate tokenization
// round-trips rarely fire inside it.
const (
	immediateTransferWindow = 500 * time.Millisecond
	cdnCorrelationWindow    = 5000 * time.Millisecond
	analyticsCardWindow     = 1000 * time.Millisecond
	beaconCorrelationWindow = 3000 * time.Millisecond
	analyticsQuietWindow    = 1000 * time.Millisecond
)

// knownSkimmerDomains are exfiltration hosts observed in public Magecart
// campaign writeups. Exact or subdomain matches are treated as confirmed.
var knownSkimmerDomains = []string{
	"magento-analytics.com",
	"mage-cdn.link",
	"jquery-cdn.su",
	"web-stats.biz",
	"cdn-imgcloud.com",
	"gstatics-analytics.com",
}

// typosquatPatterns catch impersonations of well known analytics and payment
// hosts. Anchored on the registrable tail of the domain.
var typosquatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|\.)g00gle-analytics\.com$`),
	regexp.MustCompile(`(?:^|\.)googl3\.com$`),
	regexp.MustCompile(`(?:^|\.)gooogle-analytics\.com$`),
	regexp.MustCompile(`(?:^|\.)stripe-api\.net$`),
	regexp.MustCompile(`(?:^|\.)paypa1\.com$`),
	regexp.MustCompile(`(?:^|\.)analytics-track\.(?:info|xyz|top)$`),
}

// regexSuspiciousTLD flags short throwaway domains on free TLDs favoured by
// skimmer infrastructure.
var regexSuspiciousTLD = regexp.MustCompile(`^[a-z]{2,4}\.(?:tk|ml|ga|cf|gq)$`)

// regexObfuscatedSubdomain flags long hex-like machine-generated subdomains.
var regexObfuscatedSubdomain = regexp.MustCompile(`^[a-z0-9]{32,}\.`)

// legitimateCDNs is the allow-list consulted before the fake-CDN patterns.
var legitimateCDNs = []string{
	"cdn.jsdelivr.net",
	"cdnjs.cloudflare.com",
	"unpkg.com",
	"ajax.googleapis.com",
	"fonts.googleapis.com",
	"fonts.gstatic.com",
	"stackpath.bootstrapcdn.com",
	"maxcdn.bootstrapcdn.com",
	"ajax.aspnetcdn.com",
}

// fakeCDNPatterns catch hosts dressed up as CDNs, analytics endpoints or
// payment processors on cheap TLDs.
var fakeCDNPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[.-])cdn[0-9]*[.-].*\.(?:top|xyz|club|info|pw|su|icu)$`),
	regexp.MustCompile(`jquery[.-](?:cdn|static|libs?)\.`),
	regexp.MustCompile(`(?:^|\.)(?:google|gstatic|analytics|metrics)[a-z0-9-]*\.(?:top|xyz|club|info|pw|su|icu)$`),
	regexp.MustCompile(`(?:^|\.)(?:stripe|paypal|braintree|checkout|payments?)[a-z0-9-]*\.(?:xyz|top|club|info|pw|su|icu)$`),
}

// analyticsProviders are legitimate analytics hosts. Traffic to them is only
// dangerous when it is temporally correlated with card data (D004); otherwise
// it is expected page noise (S003).
var analyticsProviders = []string{
	"google-analytics.com",
	"analytics.google.com",
	"googletagmanager.com",
	"stats.g.doubleclick.net",
	"segment.io",
	"segment.com",
	"mixpanel.com",
	"amplitude.com",
	"hotjar.com",
	"matomo.cloud",
}

// trustedPaymentGateways are processors a checkout page legitimately posts
// card data to.
var trustedPaymentGateways = []string{
	"stripe.com",
	"paypal.com",
	"braintreegateway.com",
	"braintree-api.com",
	"adyen.com",
	"checkout.com",
	"squareup.com",
	"authorize.net",
	"worldpay.com",
	"klarna.com",
	"2checkout.com",
}

func domainInList(domain string, list []string) bool {
	for _, entry := range list {
		if domain == entry || domainutil.IsSubdomain(domain, entry) {
			return true
		}
	}
	return false
}

func isAnalyticsProvider(domain string) bool {
	return domainInList(domain, analyticsProviders)
}

// BuiltinRules returns fresh copies of the eight built-in rules, all enabled.
func BuiltinRules() []Rule {
	return []Rule{
		ruleImmediateExternalTransfer(),
		ruleKnownMaliciousDomain(),
		ruleSuspiciousCDNPattern(),
		ruleCardDataToAnalytics(),
		ruleBeaconWithSensitive(),
		ruleKnownPaymentGateway(),
		ruleSameDomainTransfer(),
		ruleAnalyticsNoSensitive(),
	}
}

// D001: a high-risk input followed within 500ms by a cross-site request is
// the classic skimmer signature. Confidence scales with how tight the
// correlation is.
func ruleImmediateExternalTransfer() Rule {
	return Rule{
		ID:          "D001",
		Name:        "immediate_external_transfer",
		Description: "Sensitive input followed almost immediately by a request to a foreign domain",
		Category:    schemas.CategoryDanger,
		Priority:    100,
		Enabled:     true,
		Tags:        []string{"exfiltration", "timing"},
		Check: func(ctx *schemas.DetectionContext) schemas.RuleCheckResult {
			if domainutil.SameSite(ctx.Request.Domain, ctx.CurrentDomain) {
				return schemas.NoMatch()
			}
			best := time.Duration(-1)
			var bestField schemas.SensitiveFieldType
			for _, in := range ctx.RecentInputs {
				if !in.FieldType.IsHighRisk() {
					continue
				}
				diff := ctx.Request.Timestamp.Sub(in.Timestamp)
				if diff <= 0 || diff >= immediateTransferWindow {
					continue
				}
				if best < 0 || diff < best {
					best = diff
					bestField = in.FieldType
				}
			}
			if best < 0 {
				return schemas.NoMatch()
			}
			confidence := 0.90
			switch {
			case best < 100*time.Millisecond:
				confidence = 0.98
			case best < 250*time.Millisecond:
				confidence = 0.95
			}
			return schemas.Match(confidence, map[string]any{
				"time_diff_ms": best.Milliseconds(),
				"field_type":   string(bestField),
				"target":       ctx.Request.Domain,
			})
		},
	}
}

// D002: the target domain itself is a known or strongly suspected skimmer
// host, independent of any input correlation.
func ruleKnownMaliciousDomain() Rule {
	return Rule{
		ID:          "D002",
		Name:        "known_malicious_domain",
		Description: "Request target matches known skimmer infrastructure or impersonation patterns",
		Category:    schemas.CategoryDanger,
		Priority:    99,
		Enabled:     true,
		Tags:        []string{"reputation", "typosquat"},
		Check: func(ctx *schemas.DetectionContext) schemas.RuleCheckResult {
			domain := ctx.Request.Domain
			if domainInList(domain, knownSkimmerDomains) {
				return schemas.Match(1.0, map[string]any{"pattern": "known_skimmer", "domain": domain})
			}
			for _, re := range typosquatPatterns {
				if re.MatchString(domain) {
					return schemas.Match(0.90, map[string]any{"pattern": "typosquat", "domain": domain})
				}
			}
			if regexObfuscatedSubdomain.MatchString(domain) {
				return schemas.Match(0.85, map[string]any{"pattern": "obfuscated_subdomain", "domain": domain})
			}
			if regexSuspiciousTLD.MatchString(domain) {
				return schemas.Match(0.80, map[string]any{"pattern": "suspicious_tld", "domain": domain})
			}
			return schemas.NoMatch()
		},
	}
}

// D003: sensitive input recently captured and the request goes to something
// that looks like a CDN but is not one of the real ones.
func ruleSuspiciousCDNPattern() Rule {
	return Rule{
		ID:          "D003",
		Name:        "suspicious_cdn_pattern",
		Description: "Request to a fake CDN lookalike while sensitive input is in flight",
		Category:    schemas.CategoryDanger,
		Priority:    95,
		Enabled:     true,
		Tags:        []string{"cdn", "impersonation"},
		Check: func(ctx *schemas.DetectionContext) schemas.RuleCheckResult {
			domain := ctx.Request.Domain
			if domainInList(domain, legitimateCDNs) {
				return schemas.NoMatch()
			}
			recent := false
			for _, in := range ctx.RecentInputs {
				diff := ctx.Request.Timestamp.Sub(in.Timestamp)
				if diff >= 0 && diff < cdnCorrelationWindow {
					recent = true
					break
				}
			}
			if !recent {
				return schemas.NoMatch()
			}
			for _, re := range fakeCDNPatterns {
				if re.MatchString(domain) {
					return schemas.Match(0.85, map[string]any{"pattern": re.String(), "domain": domain})
				}
			}
			return schemas.NoMatch()
		},
	}
}

// D004: card data should never be temporally adjacent to an analytics call.
func ruleCardDataToAnalytics() Rule {
	return Rule{
		ID:          "D004",
		Name:        "card_data_to_analytics",
		Description: "Card-related input immediately before a request to an analytics provider",
		Category:    schemas.CategoryDanger,
		Priority:    94,
		Enabled:     true,
		Tags:        []string{"analytics", "card"},
		Check: func(ctx *schemas.DetectionContext) schemas.RuleCheckResult {
			if !isAnalyticsProvider(ctx.Request.Domain) {
				return schemas.NoMatch()
			}
			for _, in := range ctx.RecentInputs {
				if !in.FieldType.IsCardRelated() {
					continue
				}
				diff := ctx.Request.Timestamp.Sub(in.Timestamp)
				if diff >= 0 && diff < analyticsCardWindow {
					return schemas.Match(0.90, map[string]any{
						"provider":     ctx.Request.Domain,
						"field_type":   string(in.FieldType),
						"time_diff_ms": diff.Milliseconds(),
					})
				}
			}
			return schemas.NoMatch()
		},
	}
}

// D005: sendBeacon is the exfiltration channel of choice because it survives
// page unload. A cross-site beacon shortly after sensitive input is suspect.
func ruleBeaconWithSensitive() Rule {
	return Rule{
		ID:          "D005",
		Name:        "beacon_with_sensitive",
		Description: "Cross-site beacon dispatched shortly after sensitive input",
		Category:    schemas.CategoryDanger,
		Priority:    93,
		Enabled:     true,
		Tags:        []string{"beacon", "exfiltration"},
		Check: func(ctx *schemas.DetectionContext) schemas.RuleCheckResult {
			if ctx.Request.Type != schemas.RequestBeacon {
				return schemas.NoMatch()
			}
			if domainutil.SameSite(ctx.Request.Domain, ctx.CurrentDomain) {
				return schemas.NoMatch()
			}
			matched := false
			cardRelated := false
			for _, in := range ctx.RecentInputs {
				if !in.FieldType.IsHighRisk() {
					continue
				}
				diff := ctx.Request.Timestamp.Sub(in.Timestamp)
				if diff >= 0 && diff < beaconCorrelationWindow {
					matched = true
					if in.FieldType.IsCardRelated() {
						cardRelated = true
					}
				}
			}
			if !matched {
				return schemas.NoMatch()
			}
			confidence := 0.85
			if cardRelated {
				confidence = 0.92
			}
			return schemas.Match(confidence, map[string]any{
				"target":       ctx.Request.Domain,
				"card_related": cardRelated,
			})
		},
	}
}

// S001: posting to a trusted payment gateway is what a checkout is for.
func ruleKnownPaymentGateway() Rule {
	return Rule{
		ID:          "S001",
		Name:        "known_payment_gateway",
		Description: "Request target is a trusted payment gateway",
		Category:    schemas.CategorySafe,
		Priority:    100,
		Enabled:     true,
		Tags:        []string{"payment", "allowlist"},
		Check: func(ctx *schemas.DetectionContext) schemas.RuleCheckResult {
			if domainInList(ctx.Request.Domain, trustedPaymentGateways) {
				return schemas.Match(0.95, map[string]any{"gateway": ctx.Request.Domain})
			}
			return schemas.NoMatch()
		},
	}
}

// S002: first-party traffic, graded by how close the relationship is.
func ruleSameDomainTransfer() Rule {
	return Rule{
		ID:          "S002",
		Name:        "same_domain_transfer",
		Description: "Request stays within the current site or its registrable root",
		Category:    schemas.CategorySafe,
		Priority:    95,
		Enabled:     true,
		Tags:        []string{"first-party"},
		Check: func(ctx *schemas.DetectionContext) schemas.RuleCheckResult {
			domain := domainutil.Normalize(ctx.Request.Domain)
			current := domainutil.Normalize(ctx.CurrentDomain)
			if domain == "" || current == "" {
				return schemas.NoMatch()
			}
			switch {
			case domain == current:
				return schemas.Match(0.95, map[string]any{"relationship": "exact"})
			case domainutil.IsSubdomain(domain, current) || domainutil.IsSubdomain(current, domain):
				return schemas.Match(0.90, map[string]any{"relationship": "subdomain"})
			case domainutil.RootDomain(domain) == domainutil.RootDomain(current):
				return schemas.Match(0.85, map[string]any{"relationship": "same_root_domain"})
			}
			return schemas.NoMatch()
		},
	}
}

// S003: analytics traffic with no high-sensitivity input nearby is ordinary
// page telemetry.
func ruleAnalyticsNoSensitive() Rule {
	return Rule{
		ID:          "S003",
		Name:        "analytics_no_sensitive",
		Description: "Analytics request with no high-sensitivity input in the correlation window",
		Category:    schemas.CategorySafe,
		Priority:    80,
		Enabled:     true,
		Tags:        []string{"analytics"},
		Check: func(ctx *schemas.DetectionContext) schemas.RuleCheckResult {
			if !isAnalyticsProvider(ctx.Request.Domain) {
				return schemas.NoMatch()
			}
			for _, in := range ctx.RecentInputs {
				if !in.FieldType.IsHighSensitivity() {
					continue
				}
				diff := ctx.Request.Timestamp.Sub(in.Timestamp)
				if diff >= 0 && diff < analyticsQuietWindow {
					return schemas.NoMatch()
				}
			}
			return schemas.Match(0.85, map[string]any{"provider": ctx.Request.Domain})
		},
	}
}
