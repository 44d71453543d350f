package v1

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAddrVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain ipv4", raw: "79.144.65.173", want: "79.144.65.173"},
		{name: "ipv4 with spaces", raw: " 79.144.65.173 ", want: "79.144.65.173"},
		{name: "quoted ipv4", raw: "\"79.144.65.173\"", want: "79.144.65.173"},
		{name: "ipv4 with port", raw: "79.144.65.173:443", want: "79.144.65.173"},
		{name: "ipv6 literal", raw: "2001:db8::1", want: "2001:db8::1"},
		{name: "ipv6 in brackets", raw: "[2001:db8::1]", want: "2001:db8::1"},
		{name: "ipv6 with port", raw: "[2001:db8::1]:8443", want: "2001:db8::1"},
		{name: "ipv6 with zone", raw: "fe80::1%eth0", want: "fe80::1"},
		{name: "ipv4 mapped ipv6", raw: "::ffff:203.0.113.9", want: "203.0.113.9"},
		{name: "invalid value", raw: "not-an-ip", want: ""},
		{name: "empty", raw: "   ", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, ok := parseAddr(tc.raw)
			if tc.want == "" {
				assert.False(t, ok)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, tc.want, addr.String())
		})
	}
}

func TestPreferredIP(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"prefers public ipv4 over ipv6", []string{"2001:db8::1", "203.0.113.20"}, "203.0.113.20"},
		{"skips private addresses", []string{"10.0.0.4", " 192.168.1.9", "198.51.100.7"}, "198.51.100.7"},
		{"falls back to ipv6", []string{"127.0.0.1", "2001:db8::5"}, "2001:db8::5"},
		{"nothing public", []string{"10.1.2.3", "::1", "fe80::1"}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, preferredIP(tc.values))
		})
	}
}

func TestIsPrivateWithMappedIPv4(t *testing.T) {
	assert.True(t, isPrivate(netip.MustParseAddr("::ffff:192.168.0.10")))
	assert.True(t, isPrivate(netip.MustParseAddr("0.0.0.0")))
	assert.False(t, isPrivate(netip.MustParseAddr("::ffff:203.0.113.9")))
}

func TestForwardedFor(t *testing.T) {
	got := forwardedFor(`for=192.0.2.60;proto=http;by=203.0.113.43, For="[2001:db8:cafe::17]:4711"`)
	assert.Equal(t, []string{"192.0.2.60", `"[2001:db8:cafe::17]:4711"`}, got)
	assert.Equal(t, "192.0.2.60", preferredIP(got))
}

func TestETagIsStable(t *testing.T) {
	a := etag([]byte(`{"period":"last_7_days"}`))
	assert.Equal(t, a, etag([]byte(`{"period":"last_7_days"}`)))
	assert.NotEqual(t, a, etag([]byte(`{"period":"last_30_days"}`)))
	assert.Len(t, a, 66)
}
