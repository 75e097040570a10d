package tagmatch

import (
	"testing"

	"github.com/kbridge-dev/go-rdx/internal/wire"
)

func TestExpSearchExactMatch(t *testing.T) {
	table := New()
	req := &wire.RecvRequest{Tag: 0x42, TagMask: ^uint64(0)}
	table.PostExpected(req)

	got, found := table.ExpSearch(0x42)
	if !found || got != req {
		t.Fatalf("ExpSearch(0x42) = %v, %v; want req, true", got, found)
	}

	if _, found := table.ExpSearch(0x42); found {
		t.Fatal("ExpSearch should have removed the matched request")
	}
}

func TestExpSearchWildcard(t *testing.T) {
	table := New()
	req := &wire.RecvRequest{Tag: 0x00, TagMask: 0x0F}
	table.PostExpected(req)

	got, found := table.ExpSearch(0xAB)
	if !found || got != req {
		t.Fatalf("wildcard ExpSearch(0xAB) = %v, %v; want req, true", got, found)
	}
}

func TestExpSearchNoMatch(t *testing.T) {
	table := New()
	table.PostExpected(&wire.RecvRequest{Tag: 1, TagMask: ^uint64(0)})

	if _, found := table.ExpSearch(2); found {
		t.Fatal("ExpSearch(2) should not match a request posted for tag 1")
	}
}

func TestUnexpRecvListAndRemove(t *testing.T) {
	table := New()
	d1 := &wire.RecvDescriptor{Tag: 7}
	d2 := &wire.RecvDescriptor{Tag: 7}
	d3 := &wire.RecvDescriptor{Tag: 9}

	table.UnexpRecv(d1)
	table.UnexpRecv(d2)
	table.UnexpRecv(d3)

	matches := table.UnexpListForTag(7)
	if len(matches) != 2 {
		t.Fatalf("UnexpListForTag(7) len = %d, want 2", len(matches))
	}

	table.UnexpRemove(d1)
	if table.NumUnexpected() != 2 {
		t.Fatalf("NumUnexpected() = %d, want 2 after removing d1", table.NumUnexpected())
	}

	matches = table.UnexpListForTag(7)
	if len(matches) != 1 || matches[0] != d2 {
		t.Fatalf("UnexpListForTag(7) after removal = %v, want [d2]", matches)
	}
}

func TestNumExpected(t *testing.T) {
	table := New()
	table.PostExpected(&wire.RecvRequest{Tag: 1, TagMask: ^uint64(0)})
	table.PostExpected(&wire.RecvRequest{Tag: 2, TagMask: ^uint64(0)})

	if table.NumExpected() != 2 {
		t.Fatalf("NumExpected() = %d, want 2", table.NumExpected())
	}
}
