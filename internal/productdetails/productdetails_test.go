package productdetails

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func date(s string) time.Time {
	d, _ := time.Parse(time.DateOnly, s)
	return d
}

func TestParseMajorReleases(t *testing.T) {
	raw := map[string]string{
		"121.0": "2023-12-19",
		"1.5":   "2005-11-29",
		"120.0": "2023-11-21",
		"3.6":   "2010-01-21",
		"4.0":   "2011-03-22",
	}
	expected := []Release{
		{Version: 4, Date: date("2011-03-22")},
		{Version: 120, Date: date("2023-11-21")},
		{Version: 121, Date: date("2023-12-19")},
	}
	releases, err := ParseMajorReleases(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(expected, releases); diff != "" {
		t.Errorf("unexpected releases (-expected +got):\n%s", diff)
	}

	if _, err := ParseMajorReleases(map[string]string{"120.0": "tomorrow"}); err == nil {
		t.Errorf("expected an error for an invalid date")
	}
}

func TestMajorReleases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"120.0": "2023-11-21", "121.0": "2023-12-19"}`)
	}))
	defer server.Close()

	releases, err := NewClient(server.URL, server.Client()).MajorReleases(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(releases) != 2 || releases[1].Version != 121 {
		t.Errorf("expected releases 120 and 121, got %v", releases)
	}
}
