package heuristics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formsentry/formsentry/api/schemas"
)

// base is far enough in the past that derived request/input timestamps are
// always valid.
var base = time.Now().Add(-time.Minute)

func builtinByID(t *testing.T, id string) Rule {
	t.Helper()
	for _, rule := range BuiltinRules() {
		if rule.ID == id {
			return rule
		}
	}
	t.Fatalf("no builtin rule with id %s", id)
	return Rule{}
}

func makeContext(currentDomain string, req schemas.NetworkRequest, inputs ...schemas.SensitiveInput) *schemas.DetectionContext {
	return &schemas.DetectionContext{
		Request:       req,
		RecentInputs:  inputs,
		CurrentDomain: currentDomain,
	}
}

func cardInput(at time.Time) schemas.SensitiveInput {
	return schemas.SensitiveInput{
		FieldID:     "cc-number",
		FieldType:   schemas.FieldCardNumber,
		InputLength: 16,
		Timestamp:   at,
	}
}

func request(reqType schemas.RequestType, domain string, at time.Time) schemas.NetworkRequest {
	return schemas.NetworkRequest{
		ID:        "req-1",
		Type:      reqType,
		URL:       "https://" + domain + "/collect",
		Method:    "POST",
		Timestamp: at,
		Domain:    domain,
	}
}

func TestBuiltinRules_NoMatchImpliesZeroConfidence(t *testing.T) {
	t.Parallel()

	// A benign context: no inputs, first-party-looking but unknown domain.
	ctx := makeContext("shop.example.com", request(schemas.RequestFetch, "static.assets-farm.dev", base))
	for _, rule := range BuiltinRules() {
		res := rule.Check(ctx)
		if !res.Matched {
			assert.Zero(t, res.Confidence, "rule %s: non-match must carry zero confidence", rule.ID)
		}
	}
}

func TestD001_ImmediateExternalTransfer(t *testing.T) {
	t.Parallel()
	rule := builtinByID(t, "D001")

	t.Run("matches at 499ms, strict boundary at 500ms", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestFetch, "exfil.attacker.net", base.Add(499*time.Millisecond))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		require.True(t, res.Matched)
		assert.Equal(t, 0.90, res.Confidence)

		req = request(schemas.RequestFetch, "exfil.attacker.net", base.Add(500*time.Millisecond))
		res = rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		assert.False(t, res.Matched)
	})

	t.Run("confidence scales with correlation tightness", func(t *testing.T) {
		t.Parallel()
		for _, tc := range []struct {
			diff time.Duration
			want float64
		}{
			{50 * time.Millisecond, 0.98},
			{99 * time.Millisecond, 0.98},
			{100 * time.Millisecond, 0.95},
			{249 * time.Millisecond, 0.95},
			{250 * time.Millisecond, 0.90},
			{499 * time.Millisecond, 0.90},
		} {
			req := request(schemas.RequestFetch, "exfil.attacker.net", base.Add(tc.diff))
			res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
			require.True(t, res.Matched, "diff %s", tc.diff)
			assert.Equal(t, tc.want, res.Confidence, "diff %s", tc.diff)
		}
	})

	t.Run("same-site transfer never matches", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestFetch, "api.shop.example.com", base.Add(100*time.Millisecond))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		assert.False(t, res.Matched)
	})

	t.Run("low-risk field types ignored", func(t *testing.T) {
		t.Parallel()
		email := schemas.SensitiveInput{FieldID: "email", FieldType: schemas.FieldEmail, Timestamp: base}
		req := request(schemas.RequestFetch, "exfil.attacker.net", base.Add(100*time.Millisecond))
		res := rule.Check(makeContext("shop.example.com", req, email))
		assert.False(t, res.Matched)
	})

	t.Run("input after request does not correlate", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestFetch, "exfil.attacker.net", base)
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base.Add(100*time.Millisecond))))
		assert.False(t, res.Matched)
	})
}

func TestD002_KnownMaliciousDomain(t *testing.T) {
	t.Parallel()
	rule := builtinByID(t, "D002")

	tests := []struct {
		name       string
		domain     string
		match      bool
		confidence float64
	}{
		{"known skimmer host", "magento-analytics.com", true, 1.0},
		{"skimmer subdomain", "cdn.jquery-cdn.su", true, 1.0},
		{"typosquat google", "g00gle-analytics.com", true, 0.90},
		{"typosquat stripe", "stripe-api.net", true, 0.90},
		{"typosquat tracker", "analytics-track.info", true, 0.90},
		{"suspicious free tld", "abcd.tk", true, 0.80},
		{"obfuscated hex subdomain", "d41d8cd98f00b204e9800998ecf8427e1234.example.com", true, 0.85},
		{"legitimate analytics", "google-analytics.com", false, 0},
		{"ordinary domain", "shop.example.com", false, 0},
		{"long but short-of-32 subdomain", "abcdef0123456789abcdef0123.example.com", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := rule.Check(makeContext("shop.example.com", request(schemas.RequestFetch, tt.domain, base)))
			assert.Equal(t, tt.match, res.Matched)
			assert.Equal(t, tt.confidence, res.Confidence)
		})
	}
}

func TestD003_SuspiciousCDNPattern(t *testing.T) {
	t.Parallel()
	rule := builtinByID(t, "D003")
	fakeCDN := "cdn1.jscdn-delivery.xyz"

	t.Run("fake cdn with recent input matches", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestFetch, fakeCDN, base.Add(2*time.Second))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		require.True(t, res.Matched)
		assert.Equal(t, 0.85, res.Confidence)
	})

	t.Run("no recent input means no match", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestFetch, fakeCDN, base.Add(6*time.Second))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		assert.False(t, res.Matched)
	})

	t.Run("legitimate cdn allow-listed", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestFetch, "cdn.jsdelivr.net", base.Add(time.Second))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		assert.False(t, res.Matched)
	})
}

func TestD004_CardDataToAnalytics(t *testing.T) {
	t.Parallel()
	rule := builtinByID(t, "D004")

	t.Run("card input 999ms before analytics request matches", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestXHR, "google-analytics.com", base.Add(999*time.Millisecond))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		require.True(t, res.Matched)
		assert.Equal(t, 0.90, res.Confidence)
	})

	t.Run("card input 1001ms before analytics request does not match", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestXHR, "google-analytics.com", base.Add(1001*time.Millisecond))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		assert.False(t, res.Matched)
	})

	t.Run("password input does not trigger card rule", func(t *testing.T) {
		t.Parallel()
		pw := schemas.SensitiveInput{FieldID: "pw", FieldType: schemas.FieldPassword, Timestamp: base}
		req := request(schemas.RequestXHR, "google-analytics.com", base.Add(500*time.Millisecond))
		res := rule.Check(makeContext("shop.example.com", req, pw))
		assert.False(t, res.Matched)
	})

	t.Run("non-analytics target ignored", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestXHR, "api.shop.example.com", base.Add(500*time.Millisecond))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		assert.False(t, res.Matched)
	})
}

func TestD005_BeaconWithSensitive(t *testing.T) {
	t.Parallel()
	rule := builtinByID(t, "D005")

	t.Run("cross-site beacon with card input", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestBeacon, "collector.attacker.net", base.Add(time.Second))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		require.True(t, res.Matched)
		assert.Equal(t, 0.92, res.Confidence)
	})

	t.Run("cross-site beacon with password input only", func(t *testing.T) {
		t.Parallel()
		pw := schemas.SensitiveInput{FieldID: "pw", FieldType: schemas.FieldPassword, Timestamp: base}
		req := request(schemas.RequestBeacon, "collector.attacker.net", base.Add(time.Second))
		res := rule.Check(makeContext("shop.example.com", req, pw))
		require.True(t, res.Matched)
		assert.Equal(t, 0.85, res.Confidence)
	})

	t.Run("non-beacon request type ignored", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestFetch, "collector.attacker.net", base.Add(time.Second))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		assert.False(t, res.Matched)
	})

	t.Run("same-site beacon ignored", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestBeacon, "metrics.shop.example.com", base.Add(time.Second))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		assert.False(t, res.Matched)
	})

	t.Run("input outside 3s window ignored", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestBeacon, "collector.attacker.net", base.Add(3500*time.Millisecond))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		assert.False(t, res.Matched)
	})
}

func TestS001_KnownPaymentGateway(t *testing.T) {
	t.Parallel()
	rule := builtinByID(t, "S001")

	t.Run("gateway subdomain matches", func(t *testing.T) {
		t.Parallel()
		res := rule.Check(makeContext("shop.example.com", request(schemas.RequestFetch, "api.stripe.com", base)))
		require.True(t, res.Matched)
		assert.Equal(t, 0.95, res.Confidence)
	})

	t.Run("gateway root matches", func(t *testing.T) {
		t.Parallel()
		res := rule.Check(makeContext("shop.example.com", request(schemas.RequestForm, "paypal.com", base)))
		assert.True(t, res.Matched)
	})

	t.Run("lookalike does not match", func(t *testing.T) {
		t.Parallel()
		res := rule.Check(makeContext("shop.example.com", request(schemas.RequestFetch, "stripe.com.attacker.net", base)))
		assert.False(t, res.Matched)
	})
}

func TestS002_SameDomainTransfer(t *testing.T) {
	t.Parallel()
	rule := builtinByID(t, "S002")

	tests := []struct {
		name         string
		domain       string
		current      string
		match        bool
		confidence   float64
		relationship string
	}{
		{"exact", "shop.example.com", "shop.example.com", true, 0.95, "exact"},
		{"subdomain of current", "api.shop.example.com", "shop.example.com", true, 0.90, "subdomain"},
		{"current is subdomain", "shop.example.com", "api.shop.example.com", true, 0.90, "subdomain"},
		{"same registrable root", "cdn.example.com", "shop.example.com", true, 0.85, "same_root_domain"},
		{"same root with ccTLD suffix", "img.example.co.kr", "www.example.co.kr", true, 0.85, "same_root_domain"},
		{"sibling roots differ", "example.net", "example.com", false, 0, ""},
		{"unrelated", "tracker.evil.net", "shop.example.com", false, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := rule.Check(makeContext(tt.current, request(schemas.RequestFetch, tt.domain, base)))
			require.Equal(t, tt.match, res.Matched)
			assert.Equal(t, tt.confidence, res.Confidence)
			if tt.match {
				assert.Equal(t, tt.relationship, res.Details["relationship"])
			}
		})
	}
}

func TestS003_AnalyticsNoSensitive(t *testing.T) {
	t.Parallel()
	rule := builtinByID(t, "S003")

	t.Run("analytics with quiet window matches", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestXHR, "google-analytics.com", base.Add(2*time.Second))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		require.True(t, res.Matched)
		assert.Equal(t, 0.85, res.Confidence)
	})

	t.Run("high-sensitivity input in window suppresses match", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestXHR, "google-analytics.com", base.Add(500*time.Millisecond))
		res := rule.Check(makeContext("shop.example.com", req, cardInput(base)))
		assert.False(t, res.Matched)
	})

	t.Run("expiry date is not high sensitivity", func(t *testing.T) {
		t.Parallel()
		expiry := schemas.SensitiveInput{FieldID: "exp", FieldType: schemas.FieldExpiryDate, Timestamp: base}
		req := request(schemas.RequestXHR, "google-analytics.com", base.Add(500*time.Millisecond))
		res := rule.Check(makeContext("shop.example.com", req, expiry))
		assert.True(t, res.Matched)
	})

	t.Run("non-analytics target ignored", func(t *testing.T) {
		t.Parallel()
		req := request(schemas.RequestXHR, "api.other.net", base.Add(2*time.Second))
		res := rule.Check(makeContext("shop.example.com", req))
		assert.False(t, res.Matched)
	})
}
