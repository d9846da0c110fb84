// Package batch provides the result accumulator shared by every best-effort
// deletion loop in the governance engine. Individual failures are captured
// and counted instead of aborting the batch, so partial completion stays
// inspectable.
package batch

// Failure records one failed item in a batch operation.
type Failure struct {
	Table string `json:"table,omitempty"`
	ID    string `json:"id"`
	Err   string `json:"error"`
}

// Result accumulates the outcome of a batch operation.
type Result struct {
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    []Failure `json:"failed,omitempty"`
}

// Success records one successfully processed item.
func (r *Result) Success() {
	r.Attempted++
	r.Succeeded++
}

// Fail records one failed item.
func (r *Result) Fail(table, id string, err error) {
	r.Attempted++
	r.Failed = append(r.Failed, Failure{Table: table, ID: id, Err: err.Error()})
}

// Merge folds another result into this one.
func (r *Result) Merge(other Result) {
	r.Attempted += other.Attempted
	r.Succeeded += other.Succeeded
	r.Failed = append(r.Failed, other.Failed...)
}
