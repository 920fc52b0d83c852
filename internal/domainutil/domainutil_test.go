package domainutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameSite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"exact match", "shop.example.com", "shop.example.com", true},
		{"subdomain of current", "api.shop.example.com", "shop.example.com", true},
		{"current is subdomain", "shop.example.com", "api.shop.example.com", true},
		{"case and trailing dot normalized", "Shop.Example.COM.", "shop.example.com", true},
		{"sibling domains differ", "evil-example.com", "example.com", false},
		{"suffix without dot boundary", "notexample.com", "example.com", false},
		{"unrelated", "tracker.evil.net", "shop.example.com", false},
		{"empty side never matches", "", "example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SameSite(tt.a, tt.b))
		})
	}
}

func TestIsSubdomain(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSubdomain("api.shop.example.com", "shop.example.com"))
	assert.True(t, IsSubdomain("a.b.c.example.com", "example.com"))
	assert.False(t, IsSubdomain("example.com", "example.com"))
	assert.False(t, IsSubdomain("shop.example.com", "api.shop.example.com"))
	assert.False(t, IsSubdomain("notexample.com", "example.com"))
}

func TestRootDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host string
		want string
	}{
		{"shop.example.com", "example.com"},
		{"a.b.shop.example.com", "example.com"},
		{"example.com", "example.com"},
		{"localhost", "localhost"},
		{"shop.example.co.kr", "example.co.kr"},
		{"www.example.com.au", "example.com.au"},
		{"news.bbc.co.uk", "bbc.co.uk"},
		{"stats.parliament.gov.uk", "parliament.gov.uk"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RootDomain(tt.host))
		})
	}
}
