package calls

import (
	"errors"
	"fmt"
	"slices"
)

var ErrDuplicateCustomID = errors.New("duplicate custom_id")

// Index maps custom ids to the requests submitted in one batch attempt. It is
// read-only once built.
type Index struct {
	entries map[string]Request
	order   []string
}

// BuildIndex scans src once. It fails on the first malformed record or on the
// first custom id seen twice.
func BuildIndex(src Source) (*Index, error) {
	index := &Index{entries: map[string]Request{}}

	for req, err := range src.Requests() {
		if err != nil {
			return nil, err
		}

		if err := index.add(req); err != nil {
			return nil, fmt.Errorf("%w in %s", err, src.Name())
		}
	}

	return index, nil
}

func NewIndex(requests ...Request) (*Index, error) {
	return BuildIndex(NewSliceSource("requests", requests...))
}

func (x *Index) add(req Request) error {
	if _, exists := x.entries[req.CustomID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateCustomID, req.CustomID)
	}

	x.entries[req.CustomID] = req
	x.order = append(x.order, req.CustomID)

	return nil
}

func (x *Index) Len() int {
	if x == nil {
		return 0
	}

	return len(x.order)
}

func (x *Index) Lookup(customID string) (Request, bool) {
	if x == nil {
		return Request{}, false
	}

	req, ok := x.entries[customID]

	return req, ok
}

// IDs returns the custom ids in source order.
func (x *Index) IDs() []string {
	if x == nil {
		return nil
	}

	return slices.Clone(x.order)
}

// Requests returns the indexed requests in source order.
func (x *Index) Requests() []Request {
	if x == nil {
		return nil
	}

	out := make([]Request, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.entries[id])
	}

	return out
}

// IDSet is a set of custom ids, typically the ids to skip on a resumed run.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]

	return ok
}

func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}
