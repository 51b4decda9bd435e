package model

// Record is one row of the episode list: an archive identifier and the link it backs.
type Record struct {
	ArchiveID string `json:"archive_id"`
	Link      string `json:"link"`
	Series    string `json:"series"`
	Channel   string `json:"channel"`
	Row       int    `json:"row,omitempty"` // 1-based source row; the header is row 1
}

// Batch is a contiguous, ordered window of records reconciled with one query.
type Batch struct {
	Index   int
	Records []Record
}

// IDs returns the archive identifiers of the batch in record order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.ArchiveID
	}
	return ids
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Records)
}
