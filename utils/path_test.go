package utils

import "testing"

func TestLookupPath(t *testing.T) {
	root := map[string]any{
		"companyId": "7",
		"profile": map[string]any{
			"company": map[string]any{"id": "acme"},
			"tags":    []any{"a", "b"},
		},
		"empty": nil,
	}

	if v, ok := LookupPath(root, "companyId"); !ok || v != "7" {
		t.Fatalf("flat lookup failed: %v %v", v, ok)
	}
	if v, ok := LookupPath(root, "profile.company.id"); !ok || v != "acme" {
		t.Fatalf("nested lookup failed: %v %v", v, ok)
	}
	if _, ok := LookupPath(root, "profile.missing.id"); ok {
		t.Fatalf("missing hop must report not found")
	}
	if _, ok := LookupPath(root, "empty.id"); ok {
		t.Fatalf("nil hop must report not found, not panic")
	}
	if _, ok := LookupPath(root, "profile.tags.0"); ok {
		t.Fatalf("non-map intermediate must report not found")
	}
	if _, ok := LookupPath(root, ""); ok {
		t.Fatalf("empty path must report not found")
	}
}

func TestLookupPathStringMap(t *testing.T) {
	root := map[string]any{"labels": map[string]string{"env": "prod"}}
	if v, ok := LookupPath(root, "labels.env"); !ok || v != "prod" {
		t.Fatalf("map[string]string hop failed: %v %v", v, ok)
	}
}

func TestEqualValues(t *testing.T) {
	cases := []struct {
		a, b any
		want bool
	}{
		{"x", "x", true},
		{"x", "y", false},
		{true, true, true},
		{true, false, false},
		{7, float64(7), true},
		{int64(7), 7, true},
		{float64(7.5), 7, false},
		{"7", 7, false},
		{nil, nil, true},
		{nil, "x", false},
	}
	for _, c := range cases {
		if got := EqualValues(c.a, c.b); got != c.want {
			t.Fatalf("EqualValues(%#v, %#v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
