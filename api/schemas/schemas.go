// Package schemas holds the value types shared across the detection core:
// verdicts, field and request classifications, the facts produced by the
// browser-side collectors, and the results returned to callers.
package schemas

// Verdict is the classification outcome of an analysis. The values are
// uppercase to match the wire format used by the capture side.
type Verdict string

const (
	VerdictSafe       Verdict = "SAFE"
	VerdictUnknown    Verdict = "UNKNOWN"
	VerdictSuspicious Verdict = "SUSPICIOUS"
	VerdictDangerous  Verdict = "DANGEROUS"
)

// Severity returns the total order of verdicts (SAFE=0 .. DANGEROUS=3).
// Escalation logic relies on this ordering and must never downgrade.
func (v Verdict) Severity() int {
	switch v {
	case VerdictSafe:
		return 0
	case VerdictUnknown:
		return 1
	case VerdictSuspicious:
		return 2
	case VerdictDangerous:
		return 3
	}
	return -1
}

// AtLeast reports whether v is at least as severe as other.
func (v Verdict) AtLeast(other Verdict) bool {
	return v.Severity() >= other.Severity()
}

// RequiresAction reports whether the verdict should be surfaced to the user.
func (v Verdict) RequiresAction() bool {
	return v == VerdictSuspicious || v == VerdictDangerous
}

// ParseVerdict maps an external string (e.g. from the AI analyzer) onto the
// closed enum. Anything unrecognized degrades to UNKNOWN.
func ParseVerdict(s string) Verdict {
	switch Verdict(s) {
	case VerdictSafe, VerdictUnknown, VerdictSuspicious, VerdictDangerous:
		return Verdict(s)
	}
	return VerdictUnknown
}

// Recommendation is the suggested user-facing action for a verdict.
type Recommendation string

const (
	RecommendationProceed Recommendation = "PROCEED"
	RecommendationWarn    Recommendation = "WARN"
	RecommendationBlock   Recommendation = "BLOCK"
)

// Recommend derives the default recommendation for a verdict. The AI analyzer
// may override this with its own recommendation.
func Recommend(v Verdict) Recommendation {
	switch v {
	case VerdictSafe:
		return RecommendationProceed
	case VerdictUnknown, VerdictSuspicious:
		return RecommendationWarn
	case VerdictDangerous:
		return RecommendationBlock
	}
	return RecommendationWarn
}

// ParseRecommendation maps an external string onto the closed enum, returning
// false when the value is not one of the known actions.
func ParseRecommendation(s string) (Recommendation, bool) {
	switch Recommendation(s) {
	case RecommendationProceed, RecommendationWarn, RecommendationBlock:
		return Recommendation(s), true
	}
	return "", false
}

// SensitiveFieldType classifies what kind of sensitive data a monitored form
// field carries. The capture side infers this from field metadata; the raw
// value itself is never transmitted.
type SensitiveFieldType string

const (
	FieldCardNumber SensitiveFieldType = "CARD_NUMBER"
	FieldCVV        SensitiveFieldType = "CVV"
	FieldExpiryDate SensitiveFieldType = "EXPIRY_DATE"
	FieldPassword   SensitiveFieldType = "PASSWORD"
	FieldEmail      SensitiveFieldType = "EMAIL"
	FieldPhone      SensitiveFieldType = "PHONE"
	FieldSSN        SensitiveFieldType = "SSN"
	FieldUnknown    SensitiveFieldType = "UNKNOWN"
)

// IsHighRisk reports whether exfiltration of this field type is directly
// monetizable (payment data or credentials). The danger rules only correlate
// against high-risk inputs.
func (t SensitiveFieldType) IsHighRisk() bool {
	switch t {
	case FieldCardNumber, FieldCVV, FieldExpiryDate, FieldPassword:
		return true
	}
	return false
}

// IsCardRelated reports whether the field belongs to a payment card.
func (t SensitiveFieldType) IsCardRelated() bool {
	switch t {
	case FieldCardNumber, FieldCVV, FieldExpiryDate:
		return true
	}
	return false
}

// IsHighSensitivity reports whether the field is in the strictest tier used
// by the analytics safe rule (card number, CVV, password).
func (t SensitiveFieldType) IsHighSensitivity() bool {
	switch t {
	case FieldCardNumber, FieldCVV, FieldPassword:
		return true
	}
	return false
}

// RequestType identifies the browser API a network request was issued through.
type RequestType string

const (
	RequestFetch     RequestType = "FETCH"
	RequestXHR       RequestType = "XHR"
	RequestBeacon    RequestType = "BEACON"
	RequestForm      RequestType = "FORM"
	RequestWebSocket RequestType = "WEBSOCKET"
)

// RuleCategory partitions detection rules into danger and safe sets.
type RuleCategory string

const (
	CategoryDanger RuleCategory = "DANGER"
	CategorySafe   RuleCategory = "SAFE"
)
