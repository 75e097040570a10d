// Package tagmatch implements the tag-matching structure shared by a
// worker's expected-receive queue and unexpected-message list, grounded
// on original_source's ucp_tag_match_t (tag_match.h) and the matching
// logic in tag_rndv.c's ucp_tag_rndv_process_rts.
package tagmatch

import "github.com/kbridge-dev/go-rdx/internal/wire"

// Table implements ifaces.TagMatch: an expected-receive FIFO per
// matching semantics (first posted, first matched, subject to tag/mask)
// plus an unexpected list keyed loosely by tag for cancellation lookups.
//
// Both structures are plain slices scanned linearly. The original uses
// a hash-indexed hybrid (exact-match hash plus wildcard list); a linear
// scan is the correct Go-idiomatic simplification here since nothing in
// this core's scope demands matching throughput at worker-thread scale.
type Table struct {
	expected   []*wire.RecvRequest
	unexpected []*wire.RecvDescriptor
}

// New returns an empty tag-match table.
func New() *Table {
	return &Table{}
}

// PostExpected adds a receive request to the expected queue, to be
// matched against either an already-unexpected message or a future RTS.
func (t *Table) PostExpected(req *wire.RecvRequest) {
	t.expected = append(t.expected, req)
}

// ExpSearch finds and removes the first expected request whose
// (Tag, TagMask) matches tag, implementing wildcard matching via
// tag & mask == req.Tag & mask.
func (t *Table) ExpSearch(tag uint64) (*wire.RecvRequest, bool) {
	for i, req := range t.expected {
		mask := req.TagMask
		if mask == 0 {
			mask = ^uint64(0)
		}
		if (tag & mask) == (req.Tag & mask) {
			t.expected = append(t.expected[:i], t.expected[i+1:]...)
			return req, true
		}
	}
	return nil, false
}

// UnexpListForTag returns every unexpected descriptor whose tag matches,
// without removing them — used to scan for a cancellation target.
func (t *Table) UnexpListForTag(tag uint64) []*wire.RecvDescriptor {
	var out []*wire.RecvDescriptor
	for _, d := range t.unexpected {
		if d.Tag == tag {
			out = append(out, d)
		}
	}
	return out
}

// UnexpRecv links a freshly arrived unexpected descriptor in.
func (t *Table) UnexpRecv(rdesc *wire.RecvDescriptor) {
	t.unexpected = append(t.unexpected, rdesc)
}

// UnexpRemove unlinks rdesc, the counterpart to UnexpRecv once a
// descriptor is matched or canceled.
func (t *Table) UnexpRemove(rdesc *wire.RecvDescriptor) {
	for i, d := range t.unexpected {
		if d == rdesc {
			t.unexpected = append(t.unexpected[:i], t.unexpected[i+1:]...)
			return
		}
	}
}

// NumExpected reports the current depth of the expected queue, exposed
// for worker-level statistics.
func (t *Table) NumExpected() int {
	return len(t.expected)
}

// NumUnexpected reports the current size of the unexpected list.
func (t *Table) NumUnexpected() int {
	return len(t.unexpected)
}
