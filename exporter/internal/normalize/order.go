package normalize

import (
	"cmp"
	"slices"
	"time"

	"github.com/hazyhaar/scrollback/exporter/record"
)

// Order returns msgs in chronological order. Collection walks the list
// from newest to oldest, so observation order alone is reversed; the
// parsed timestamp is the primary key.
//
// A message without a parseable time inherits the time of its
// chronological predecessor in observation order. Equal times are broken
// by observation rank: a later sample is older, and within one sample the
// document slot runs oldest to newest.
func Order(msgs []record.Message) []record.Message {
	out := slices.Clone(msgs)
	slices.SortStableFunc(out, byObservation)

	eff := make(map[string]time.Time, len(out))
	rank := make(map[string]int, len(out))
	var prev time.Time
	for i, m := range out {
		t := m.Time
		if t.IsZero() {
			t = prev
		}
		eff[m.ID] = t
		rank[m.ID] = i
		prev = t
	}

	slices.SortStableFunc(out, func(a, b record.Message) int {
		if c := eff[a.ID].Compare(eff[b.ID]); c != 0 {
			return c
		}
		return cmp.Compare(rank[a.ID], rank[b.ID])
	})
	return out
}

func byObservation(a, b record.Message) int {
	if c := cmp.Compare(b.Sample, a.Sample); c != 0 {
		return c
	}
	return cmp.Compare(a.Slot, b.Slot)
}

// GroupThreads orders channel messages thread by thread: threads by their
// latest activity, messages within a thread chronologically. Input must
// already be in chronological order.
func GroupThreads(msgs []record.Message) []record.Message {
	type thread struct {
		id     string
		last   int
		member []record.Message
	}
	var threads []*thread
	byID := map[string]*thread{}
	for i, m := range msgs {
		tid := m.ThreadID
		if tid == "" {
			tid = m.ID
		}
		t, ok := byID[tid]
		if !ok {
			t = &thread{id: tid}
			byID[tid] = t
			threads = append(threads, t)
		}
		t.member = append(t.member, m)
		t.last = i
	}
	slices.SortStableFunc(threads, func(a, b *thread) int { return cmp.Compare(a.last, b.last) })

	out := make([]record.Message, 0, len(msgs))
	for _, t := range threads {
		out = append(out, t.member...)
	}
	return out
}
