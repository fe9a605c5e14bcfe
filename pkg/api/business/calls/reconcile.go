package calls

import (
	"encoding/json"
	"fmt"
)

const MessageNoResult = "no result returned by provider"

// Reconciler matches provider result rows back onto the submitted requests.
//
// Rows for ids outside the index and rows that cannot be decoded become
// per-row failures. A second row for the same id is fatal.
type Reconciler struct {
	index   *Index
	results map[string]Output
	extras  []Output
}

func NewReconciler(index *Index) *Reconciler {
	return &Reconciler{
		index:   index,
		results: map[string]Output{},
	}
}

func (r *Reconciler) Success(customID string, body json.RawMessage) error {
	req, known, err := r.claim(customID)
	if err != nil || !known {
		return err
	}

	r.results[customID] = NewSuccess(customID, body, req.Body.Structured)

	return nil
}

func (r *Reconciler) Failure(customID string, message string) error {
	_, known, err := r.claim(customID)
	if err != nil || !known {
		return err
	}

	r.results[customID] = NewFailure(customID, message)

	return nil
}

// Malformed records a row that failed provider-schema validation. The row has
// no usable custom id, so the failure is reported against its line number
// with an empty id. ReadOutputIDs leaves such rows out of a resume skip set.
func (r *Reconciler) Malformed(line int, err error) {
	r.extras = append(r.extras, NewFailure("", fmt.Sprintf("malformed result row at line %d: %v", line, err)))
}

func (r *Reconciler) claim(customID string) (Request, bool, error) {
	req, known := r.index.Lookup(customID)
	if !known {
		r.extras = append(r.extras, NewFailure(customID, fmt.Sprintf("custom_id %q was not part of the submitted batch", customID)))

		return Request{}, false, nil
	}

	if _, seen := r.results[customID]; seen {
		return Request{}, false, fmt.Errorf("%w: %q appears more than once in the batch result", ErrDuplicateCustomID, customID)
	}

	return req, true, nil
}

// Outputs returns one output per indexed request in submission order, followed
// by the failures of rows that could not be matched. Indexed requests without a
// result row are reported as failures.
func (r *Reconciler) Outputs() []Output {
	out := make([]Output, 0, r.index.Len()+len(r.extras))

	for _, id := range r.index.IDs() {
		result, ok := r.results[id]
		if !ok {
			result = NewFailure(id, MessageNoResult)
		}

		out = append(out, result)
	}

	return append(out, r.extras...)
}
