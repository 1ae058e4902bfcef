package router_test

import (
	"strings"
	"testing"

	"github.com/grinuri/ib-benchmark/router"
)

func TestToAllRingOrder(t *testing.T) {
	r := router.New(4, 1, router.Table{}, router.ToAll)
	got := r.Route()
	want := router.Route{2, 3, 0}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestToNoneDefault(t *testing.T) {
	r := router.New(4, 1, router.Table{0: {1, 2}}, router.ToNone)
	if len(r.Route()) != 0 {
		t.Fatalf("expected empty route, got %v", r.Route())
	}
}

func TestExplicitRouteFiltersOutOfRange(t *testing.T) {
	r := router.New(3, 0, router.Table{0: {1, 2, 7}}, router.ToAll)
	got := r.Route()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [1 2], got %v", got)
	}
}

func TestRouteIsStableAcrossCalls(t *testing.T) {
	r := router.New(5, 0, router.Table{}, router.ToAll)
	a, b := r.Route(), r.Route()
	if len(a) != len(b) {
		t.Fatal("route changed between calls")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("route changed between calls")
		}
	}
}

func TestIsCompleteDetectsMissingSender(t *testing.T) {
	table := router.Table{0: {1, 2}, 2: {0, 1}}
	if table.IsComplete(3, router.ToNone) {
		t.Fatal("expected incomplete: rank 1 missing under to_none")
	}
}

func TestIsCompleteUnderToAllIgnoresMissingSenders(t *testing.T) {
	table := router.Table{0: {1, 2}}
	if !table.IsComplete(3, router.ToAll) {
		t.Fatal("expected complete: missing senders default to to_all, which covers everyone")
	}
}

func TestParseTable(t *testing.T) {
	const text = "0: 1, 2, 3\n1: 0\n2:\n\n"
	table, err := router.ParseTable(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	if len(table[0]) != 3 || len(table[1]) != 1 || len(table[2]) != 0 {
		t.Fatalf("unexpected table: %+v", table)
	}
}

func TestParseTableRejectsMalformedLine(t *testing.T) {
	const text = "0: 1, 2\nnot-a-line\n"
	if _, err := router.ParseTable(strings.NewReader(text)); err == nil {
		t.Fatal("expected parse error for malformed line")
	}
}

func TestSingleRankWorldRoutesEmpty(t *testing.T) {
	r := router.New(1, 0, router.Table{}, router.ToAll)
	if len(r.Route()) != 0 {
		t.Fatalf("expected empty route for single-rank world, got %v", r.Route())
	}
}
