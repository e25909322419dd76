package blacklist

import "testing"

func TestStubIsBlacklisted(t *testing.T) {
	cases := []struct {
		referer string
		want    bool
	}{
		{"", false},
		{"a", true},
		{"ab", false},
		{"abc", true},
		{"abcd", false},
	}
	var s Stub
	for _, c := range cases {
		if got := s.IsBlacklisted([]byte(c.referer)); got != c.want {
			t.Errorf("IsBlacklisted(%q) = %v, want %v", c.referer, got, c.want)
		}
	}
}
