package domain

// IngestStatus is the outcome of ingesting one unit.
type IngestStatus string

// Ingestion outcomes.
const (
	IngestStored IngestStatus = "stored"
	IngestFailed IngestStatus = "failed"
)

// IngestResult is the per-unit outcome of an ingestion run.
type IngestResult struct {
	// Index is the unit's position in the ingested sequence.
	Index int

	ID    string
	Title string

	Status IngestStatus

	// Err is the failure reason when Status is IngestFailed.
	Err error

	// Chunks is the number of chunks embedded for the unit.
	Chunks int
}

// IngestSummary aggregates the results of an ingestion run.
type IngestSummary struct {
	Stored  int
	Failed  int
	Batches int
	Results []IngestResult
}

// Record adds a result and updates the counters.
func (s *IngestSummary) Record(r IngestResult) {
	switch r.Status {
	case IngestStored:
		s.Stored++
	case IngestFailed:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// Failures returns only the failed results.
func (s *IngestSummary) Failures() []IngestResult {
	var out []IngestResult
	for _, r := range s.Results {
		if r.Status == IngestFailed {
			out = append(out, r)
		}
	}
	return out
}
