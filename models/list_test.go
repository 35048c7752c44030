package models

import (
	"context"
	"errors"
	"testing"

	"github.com/grocerygenie/grocery_backend/utils"
)

func TestEscapeLike(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"bananas", "bananas"},
		{"100% juice", `100\% juice`},
		{"mac_and_cheese", `mac\_and\_cheese`},
		{`odd\name`, `odd\\name`},
		{"%_", `\%\_`},
		{"", ""},
	}
	for _, c := range cases {
		if got := escapeLike(c.in); got != c.want {
			t.Errorf("escapeLike(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMarkEntryCheckedRejectsUnknownTable(t *testing.T) {
	// The guard fires before any query, so no database is needed.
	_, err := MarkEntryChecked(context.Background(), nil, "costco_purchases", 1)
	if !errors.Is(err, utils.ErrorUnknownListTable) {
		t.Fatalf("expected ErrorUnknownListTable, got %v", err)
	}
}
