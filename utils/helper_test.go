package utils

import (
	"testing"
)

func TestCoercePrice(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"$5.99", "5.99"},
		{"5.99 USD", "5.99"},
		{" 12,49 ", "12.49"},
		{"3", "3"},
		{"free", ""},
		{"", ""},
	}
	for _, c := range cases {
		got := CoercePrice(c.in)
		if c.want == "" {
			if got != nil {
				t.Fatalf("CoercePrice(%q) = %v, want nil", c.in, got)
			}
			continue
		}
		if got == nil || got.String() != c.want {
			t.Fatalf("CoercePrice(%q) = %v, want %s", c.in, got, c.want)
		}
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]string{"a", "b", "a", "c", "b"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected result: %v", got)
	}
}
