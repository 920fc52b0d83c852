package schemas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictOrdering(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, VerdictSafe.Severity())
	assert.Equal(t, 1, VerdictUnknown.Severity())
	assert.Equal(t, 2, VerdictSuspicious.Severity())
	assert.Equal(t, 3, VerdictDangerous.Severity())

	assert.True(t, VerdictDangerous.AtLeast(VerdictSuspicious))
	assert.True(t, VerdictUnknown.AtLeast(VerdictUnknown))
	assert.False(t, VerdictSafe.AtLeast(VerdictUnknown))
}

func TestRecommend(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RecommendationProceed, Recommend(VerdictSafe))
	assert.Equal(t, RecommendationWarn, Recommend(VerdictUnknown))
	assert.Equal(t, RecommendationWarn, Recommend(VerdictSuspicious))
	assert.Equal(t, RecommendationBlock, Recommend(VerdictDangerous))
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	assert.Equal(t, VerdictDangerous, ParseVerdict("DANGEROUS"))
	assert.Equal(t, VerdictSafe, ParseVerdict("SAFE"))
	assert.Equal(t, VerdictUnknown, ParseVerdict("definitely fine"))
	assert.Equal(t, VerdictUnknown, ParseVerdict(""))
}

func TestFieldTypeTiers(t *testing.T) {
	t.Parallel()

	assert.True(t, FieldCardNumber.IsHighRisk())
	assert.True(t, FieldPassword.IsHighRisk())
	assert.False(t, FieldEmail.IsHighRisk())

	assert.True(t, FieldExpiryDate.IsCardRelated())
	assert.False(t, FieldPassword.IsCardRelated())

	assert.True(t, FieldPassword.IsHighSensitivity())
	assert.False(t, FieldExpiryDate.IsHighSensitivity())
}

func TestNewSensitiveInput(t *testing.T) {
	t.Parallel()
	now := time.Now()

	t.Run("valid input", func(t *testing.T) {
		t.Parallel()
		in, err := NewSensitiveInput("card-field", FieldCardNumber, 16, now, "form#checkout > input")
		require.NoError(t, err)
		assert.Equal(t, "card-field", in.FieldID)
		assert.Equal(t, FieldCardNumber, in.FieldType)
	})

	t.Run("empty field id rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewSensitiveInput("  ", FieldCVV, 3, now, "")
		assert.Error(t, err)
	})

	t.Run("negative length rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewSensitiveInput("f", FieldCVV, -1, now, "")
		assert.Error(t, err)
	})

	t.Run("future timestamp rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewSensitiveInput("f", FieldCVV, 3, now.Add(time.Minute), "")
		assert.Error(t, err)
	})

	t.Run("missing field type defaults to unknown", func(t *testing.T) {
		t.Parallel()
		in, err := NewSensitiveInput("f", "", 3, now, "")
		require.NoError(t, err)
		assert.Equal(t, FieldUnknown, in.FieldType)
	})
}

func TestNewNetworkRequest(t *testing.T) {
	t.Parallel()
	now := time.Now()

	t.Run("derives domain from url", func(t *testing.T) {
		t.Parallel()
		req, err := NewNetworkRequest(RequestFetch, "https://API.Shop.Example.com/v1/collect?x=1", "post", nil, 128, now)
		require.NoError(t, err)
		assert.Equal(t, "api.shop.example.com", req.Domain)
		assert.Equal(t, "POST", req.Method)
		assert.NotEmpty(t, req.ID)
	})

	t.Run("hostless url rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewNetworkRequest(RequestXHR, "/relative/path", "GET", nil, 0, now)
		assert.Error(t, err)
	})

	t.Run("unparsable url rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewNetworkRequest(RequestXHR, "http://bad\nhost.example.com/", "GET", nil, 0, now)
		assert.Error(t, err)
	})

	t.Run("negative payload size rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewNetworkRequest(RequestFetch, "https://example.com/", "GET", nil, -5, now)
		assert.Error(t, err)
	})

	t.Run("empty method defaults to GET", func(t *testing.T) {
		t.Parallel()
		req, err := NewNetworkRequest(RequestBeacon, "https://example.com/beacon", "", nil, 10, now)
		require.NoError(t, err)
		assert.Equal(t, "GET", req.Method)
	})
}

func TestRuleCheckResultConstructors(t *testing.T) {
	t.Parallel()

	t.Run("no match carries zero confidence", func(t *testing.T) {
		t.Parallel()
		res := NoMatch()
		assert.False(t, res.Matched)
		assert.Zero(t, res.Confidence)
	})

	t.Run("match clamps confidence", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 1.0, Match(1.7, nil).Confidence)
		assert.Equal(t, 0.0, Match(-0.2, nil).Confidence)
		assert.Equal(t, 0.85, Match(0.85, nil).Confidence)
	})
}
