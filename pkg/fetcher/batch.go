package fetcher

// BatchState tracks one batch through a fetch run
type BatchState int

const (
	StatePending BatchState = iota
	StateFetching
	StateSucceeded
	StateFailed
	StateAbandoned
)

// String returns the state name
func (s BatchState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Batch is one slice of the input terms sent as a single request
type Batch struct {
	Index      int // 1-based
	Terms      []string
	Path       string
	State      BatchState
	StatusCode int
	Bytes      int64
	Err        error
}

// Partition splits terms into consecutive batches of at most maxTerms terms,
// keeping input order. Terms are neither reordered nor deduplicated.
func Partition(terms []string, maxTerms int) []*Batch {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}
	batches := make([]*Batch, 0, (len(terms)+maxTerms-1)/maxTerms)
	for start := 0; start < len(terms); start += maxTerms {
		end := start + maxTerms
		if end > len(terms) {
			end = len(terms)
		}
		batches = append(batches, &Batch{
			Index: len(batches) + 1,
			Terms: terms[start:end],
			State: StatePending,
		})
	}
	return batches
}

// abandon marks every batch as never attempted
func abandon(batches []*Batch) {
	for _, b := range batches {
		b.State = StateAbandoned
	}
}
