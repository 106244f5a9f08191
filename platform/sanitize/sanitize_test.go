package sanitize

import (
	"slices"
	"testing"
)

func TestText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<b>call</b>   me", "call me"},
		{"&lt;script&gt;alert(1)&lt;/script&gt;ok", "alert(1)ok"},
		{"line one\nline\x00 two", "line one\nline two"},
		{"   ", ""},
	}
	for _, tc := range tests {
		if got := Text(tc.in); got != tc.want {
			t.Errorf("Text(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTags(t *testing.T) {
	got := Tags([]string{"VIP", " vip ", "", "trade-in", "<i>Fleet</i>"})
	want := []string{"fleet", "trade-in", "vip"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
