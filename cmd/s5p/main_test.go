package main

import (
	"errors"
	"testing"
	"time"

	"github.com/bilelomrani1/s5p-tools/internal/dataset"
	s5phttp "github.com/bilelomrani1/s5p-tools/internal/http"
	"github.com/bilelomrani1/s5p-tools/internal/pipeline"
	"github.com/bilelomrani1/s5p-tools/internal/testutils"
)

func TestRunDispatch(t *testing.T) {
	if code := run(nil); code != ExitInvalidArgs {
		t.Errorf("no args: got %d, want %d", code, ExitInvalidArgs)
	}
	if code := run([]string{"frobnicate"}); code != ExitInvalidArgs {
		t.Errorf("unknown command: got %d, want %d", code, ExitInvalidArgs)
	}
	if code := run([]string{"help"}); code != ExitSuccess {
		t.Errorf("help: got %d, want %d", code, ExitSuccess)
	}
	if code := run([]string{"request"}); code != ExitInvalidArgs {
		t.Errorf("request without product: got %d, want %d", code, ExitInvalidArgs)
	}
	if code := run([]string{"query"}); code != ExitInvalidArgs {
		t.Errorf("query without product: got %d, want %d", code, ExitInvalidArgs)
	}
}

func TestQueryEmptyHubExitsZero(t *testing.T) {
	hub := testutils.StartFakeHub(t, nil)
	t.Setenv("S5P_HUB_URL", hub.URL())
	t.Setenv("S5P_HUB_USERNAME", "s5pguest")
	t.Setenv("S5P_HUB_PASSWORD", "s5pguest")

	if code := run([]string{"query", "L2__NO2___"}); code != ExitSuccess {
		t.Errorf("empty query: got %d, want %d", code, ExitSuccess)
	}
}

func TestSplitProduct(t *testing.T) {
	product, rest := splitProduct([]string{"L2__NO2___", "-qa", "75"})
	if product != "L2__NO2___" || len(rest) != 2 {
		t.Errorf("positional first: %q, %v", product, rest)
	}

	product, rest = splitProduct([]string{"-qa", "75"})
	if product != "" || len(rest) != 2 {
		t.Errorf("flags only: %q, %v", product, rest)
	}
}

func TestParseDates(t *testing.T) {
	b, e, err := parseDates(nil)
	if err != nil {
		t.Fatalf("default dates: %v", err)
	}
	if want := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC); !b.Equal(want) {
		t.Errorf("default begin: %v", b)
	}
	if !e.After(b) {
		t.Errorf("default end %v not after begin %v", e, b)
	}

	b, e, err = parseDates([]string{"20260101", "20260201"})
	if err != nil {
		t.Fatalf("explicit dates: %v", err)
	}
	if b.Month() != time.January || e.Month() != time.February {
		t.Errorf("explicit dates parsed wrong: %v, %v", b, e)
	}

	if _, _, err := parseDates([]string{"20260201", "20260101"}); err == nil {
		t.Error("inverted period must be rejected")
	}
	if _, _, err := parseDates([]string{"a", "b", "c"}); err == nil {
		t.Error("three values must be rejected")
	}
	if _, _, err := parseDates([]string{"yesterday"}); err == nil {
		t.Error("junk date must be rejected")
	}
}

func TestParsePair(t *testing.T) {
	x, y, err := parsePair("0.01,0.02")
	if err != nil || x != 0.01 || y != 0.02 {
		t.Errorf("parsePair: %g, %g, %v", x, y, err)
	}
	for _, bad := range []string{"", "1", "1,2,3", "a,b"} {
		if _, _, err := parsePair(bad); err == nil {
			t.Errorf("parsePair(%q): expected error", bad)
		}
	}
}

func TestListFlag(t *testing.T) {
	var l listFlag
	l.Set("20260101")
	l.Set("NOW, ")
	if len(l) != 2 || l[0] != "20260101" || l[1] != "NOW" {
		t.Errorf("listFlag: %v", l)
	}

	var pair listFlag
	pair.Set("20260101,20260201")
	if len(pair) != 2 {
		t.Errorf("comma form: %v", pair)
	}
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{s5phttp.ErrUnauthorized, ExitCatalogError},
		{pipeline.ErrStorage, ExitStorageError},
		{dataset.ErrNoData, ExitMergeError},
		{errors.New("boom"), ExitGeneralError},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.want {
			t.Errorf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
