package model

// BatchStatus tags the outcome of a single batch query.
type BatchStatus string

const (
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
)

// BatchResult is the reconciliation outcome of one batch.
//
// A succeeded result carries the identifiers the archive confirmed. A failed
// result carries the query error and an empty Found set, so every record of
// the batch lands in Missing.
type BatchResult struct {
	Index   int                 `json:"index"`
	Size    int                 `json:"size"`
	Status  BatchStatus         `json:"status"`
	Found   map[string]struct{} `json:"-"`
	Missing []Record            `json:"missing"`
	Err     error               `json:"-"`
}

// Succeeded reports whether the batch query returned a usable result.
func (r BatchResult) Succeeded() bool {
	return r.Status == BatchSucceeded
}

// Confirmed reports whether the archive confirmed the given identifier.
func (r BatchResult) Confirmed(id string) bool {
	_, ok := r.Found[id]
	return ok
}
