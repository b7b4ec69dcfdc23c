package objectstore

import (
	"testing"

	"github.com/datagate-io/datagate/internal/model"
)

func TestEffectivePrefix(t *testing.T) {
	cases := []struct {
		bound, query, want string
	}{
		{"", "", ""},
		{"exports/2026/", "", "exports/2026/"},
		{"", "reports/", "reports/"},
		{"exports/2026/", "exports/2026/q3/", "exports/2026/q3/"},
		{"exports/2026", "q3/", "exports/2026/q3/"},
		{"exports/2026/", "/q3/", "exports/2026/q3/"},
	}
	for _, c := range cases {
		if got := effectivePrefix(c.bound, c.query); got != c.want {
			t.Errorf("effectivePrefix(%q, %q) = %q, want %q", c.bound, c.query, got, c.want)
		}
	}
}

func TestObjectURL(t *testing.T) {
	got := objectURL("http://minio.internal:9000/", "exports", "2026/report.csv")
	want := "http://minio.internal:9000/exports/2026/report.csv"
	if got != want {
		t.Errorf("objectURL = %q, want %q", got, want)
	}
}

func TestAdapterType(t *testing.T) {
	if got := New().Type(); got != model.TypeObjectS3 {
		t.Errorf("adapter type = %q", got)
	}
}
