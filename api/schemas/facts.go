package schemas

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxClockSkew is the tolerance applied when rejecting future timestamps,
// so facts stamped by a slightly fast clock are not dropped.
const maxClockSkew = 2 * time.Second

// SensitiveInput records that a monitored form field received sensitive data.
// It carries only metadata about the event, never the value itself, and is
// immutable once constructed.
type SensitiveInput struct {
	FieldID     string             `json:"field_id"`
	FieldType   SensitiveFieldType `json:"field_type"`
	InputLength int                `json:"input_length"`
	Timestamp   time.Time          `json:"timestamp"`
	DOMPath     string             `json:"dom_path,omitempty"`
}

// NewSensitiveInput validates and builds a SensitiveInput fact.
func NewSensitiveInput(fieldID string, fieldType SensitiveFieldType, inputLength int, ts time.Time, domPath string) (SensitiveInput, error) {
	if strings.TrimSpace(fieldID) == "" {
		return SensitiveInput{}, fmt.Errorf("sensitive input: field id must not be empty")
	}
	if inputLength < 0 {
		return SensitiveInput{}, fmt.Errorf("sensitive input: negative input length %d", inputLength)
	}
	if ts.IsZero() {
		return SensitiveInput{}, fmt.Errorf("sensitive input: timestamp must be set")
	}
	if ts.After(time.Now().Add(maxClockSkew)) {
		return SensitiveInput{}, fmt.Errorf("sensitive input: timestamp %s is in the future", ts)
	}
	if fieldType == "" {
		fieldType = FieldUnknown
	}
	return SensitiveInput{
		FieldID:     fieldID,
		FieldType:   fieldType,
		InputLength: inputLength,
		Timestamp:   ts,
		DOMPath:     domPath,
	}, nil
}

// NetworkRequest records an outbound network call observed in the page.
// Domain is derived from URL at construction; a request whose URL does not
// yield a host cannot be built.
type NetworkRequest struct {
	ID          string            `json:"id"`
	Type        RequestType       `json:"type"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	PayloadSize int               `json:"payload_size"`
	Timestamp   time.Time         `json:"timestamp"`
	Domain      string            `json:"domain"`
}

// NewNetworkRequest validates and builds a NetworkRequest fact, deriving the
// target domain from the raw URL.
func NewNetworkRequest(reqType RequestType, rawURL, method string, headers map[string]string, payloadSize int, ts time.Time) (NetworkRequest, error) {
	if payloadSize < 0 {
		return NetworkRequest{}, fmt.Errorf("network request: negative payload size %d", payloadSize)
	}
	if ts.IsZero() {
		return NetworkRequest{}, fmt.Errorf("network request: timestamp must be set")
	}
	if ts.After(time.Now().Add(maxClockSkew)) {
		return NetworkRequest{}, fmt.Errorf("network request: timestamp %s is in the future", ts)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return NetworkRequest{}, fmt.Errorf("network request: invalid url %q: %w", rawURL, err)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return NetworkRequest{}, fmt.Errorf("network request: url %q has no host", rawURL)
	}

	if method == "" {
		method = "GET"
	}
	return NetworkRequest{
		ID:          uuid.New().String(),
		Type:        reqType,
		URL:         rawURL,
		Method:      strings.ToUpper(method),
		Headers:     headers,
		PayloadSize: payloadSize,
		Timestamp:   ts,
		Domain:      host,
	}, nil
}

// DetectionContext is the transient bundle of facts a rule evaluates against:
// one network request, the correlated recent inputs, and the domain of the
// page the request originated from. It is built fresh for every analysis and
// must never be mutated by rules.
type DetectionContext struct {
	Request         NetworkRequest
	RecentInputs    []SensitiveInput
	CurrentDomain   string
	ExternalScripts []string
}

// InputsWhere returns the recent inputs satisfying pred, preserving order.
func (c *DetectionContext) InputsWhere(pred func(SensitiveInput) bool) []SensitiveInput {
	var out []SensitiveInput
	for _, in := range c.RecentInputs {
		if pred(in) {
			out = append(out, in)
		}
	}
	return out
}
