package detect

import (
	"fmt"
	"regexp"
	"strings"
)

// headerTolerance is how far below the modal cell count a row may fall and
// still be accepted as the header row. Tolerating one missing cell lets a
// header with a single unnamed column through without configuration.
const headerTolerance = 1

// GuessHeaders finds the header row in a bounded sample of rows. Real
// header/data rows share the most common row "shape", so the first row whose
// non-empty cell count is within tolerance of the modal count is taken as
// the header. Leading blank or title rows fall outside the mode and are
// skipped.
func GuessHeaders(sample [][]string) (int, []string, error) {
	if len(sample) == 0 {
		return 0, nil, fmt.Errorf("%w: no rows sampled", ErrSchemaInference)
	}

	// Modal count of non-empty cells per row across the sample.
	freq := map[int]int{}
	counts := make([]int, len(sample))
	for i, row := range sample {
		n := 0
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				n++
			}
		}
		counts[i] = n
		freq[n]++
	}

	mode, modeFreq := 0, 0
	for n, f := range freq {
		if f > modeFreq || (f == modeFreq && n > mode) {
			mode, modeFreq = n, f
		}
	}
	if mode == 0 {
		return 0, nil, fmt.Errorf("%w: sample contains only empty rows", ErrSchemaInference)
	}

	for i, n := range counts {
		if n >= mode-headerTolerance && n > 0 {
			return i, sample[i], nil
		}
	}
	// Unreachable: the modal row itself always satisfies the condition.
	return 0, sample[0], nil
}

// maxFieldIDLength caps column identifiers at the storage engine's
// identifier limit.
const maxFieldIDLength = 63

var reservedFieldIDs = map[string]struct{}{
	"_id":        {},
	"_full_text": {},
}

var invalidIDChars = regexp.MustCompile(`[^\pL\pN _-]+`)

// NormalizeFieldIDs turns a header row into valid, unique field identifiers:
// trimmed, length-capped, reserved names and duplicates suffixed, blanks
// replaced with positional names.
func NormalizeFieldIDs(headers []string) []string {
	ids := make([]string, len(headers))
	used := map[string]bool{}

	for i, h := range headers {
		id := strings.TrimSpace(invalidIDChars.ReplaceAllString(h, " "))
		if id == "" {
			id = fmt.Sprintf("column_%d", i+1)
		}
		if len(id) > maxFieldIDLength {
			id = id[:maxFieldIDLength]
		}
		if _, reserved := reservedFieldIDs[strings.ToLower(id)]; reserved {
			id = id + "_"
		}
		base := id
		for n := 2; used[strings.ToLower(id)]; n++ {
			suffix := fmt.Sprintf("_%d", n)
			if len(base)+len(suffix) > maxFieldIDLength {
				base = base[:maxFieldIDLength-len(suffix)]
			}
			id = base + suffix
		}
		used[strings.ToLower(id)] = true
		ids[i] = id
	}
	return ids
}
