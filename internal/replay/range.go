package replay

import "fmt"

// LineRange is an inclusive range of operation log line numbers.
type LineRange struct {
	From uint64
	To   uint64
}

func (r LineRange) Contains(line uint64) bool {
	return line >= r.From && line <= r.To
}

// SplitRange splits a line range into batches of size batchSize.
func SplitRange(from, to, batchSize uint64) ([]LineRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to line must be >= from line")
	}

	ranges := make([]LineRange, 0, (to-from)/batchSize+1)
	start := from
	for start <= to {
		remaining := to - start + 1
		var end uint64
		if remaining <= batchSize {
			end = to
		} else {
			end = start + batchSize - 1
		}
		ranges = append(ranges, LineRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}
