package harvest

// Partition splits ids into chunks of at most size, preserving input order.
// Given the same input order and size the boundaries are identical across
// runs. The returned chunks alias the input slice.
func Partition(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		return nil
	}

	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
