package timeline

// Batch is a contiguous run of segments processed together. Index is the
// batch's 0-based position in the timeline.
type Batch struct {
	Index    int
	Segments []Segment
}

// Partition splits segments into consecutive batches of at most size
// elements. Concatenating the batches yields segments unchanged; only the
// last batch may be short. A size below 1 is treated as 1.
func Partition(segments []Segment, size int) []Batch {
	if size < 1 {
		size = 1
	}
	if len(segments) == 0 {
		return nil
	}

	batches := make([]Batch, 0, (len(segments)+size-1)/size)
	for start := 0; start < len(segments); start += size {
		end := start + size
		if end > len(segments) {
			end = len(segments)
		}
		batches = append(batches, Batch{
			Index:    len(batches),
			Segments: segments[start:end:end],
		})
	}
	return batches
}

// Flatten concatenates batches back into one segment slice.
func Flatten(batches []Batch) []Segment {
	var n int
	for _, b := range batches {
		n += len(b.Segments)
	}
	out := make([]Segment, 0, n)
	for _, b := range batches {
		out = append(out, b.Segments...)
	}
	return out
}
