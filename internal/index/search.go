package index

// linearCutoff is the window size below which the range search finishes with
// a linear scan instead of recursing.
const linearCutoff = 20

// PrecursorRange solves the [minlimit, maxlimit] window over the mass-sorted
// entries such that every peptide i with pmass-dM <= Mass(i) <= pmass+dM is
// inside it. It returns found=true iff the window endpoints actually bracket
// the query window; a false return with a valid range means no peptide
// qualifies (or dM < 0, in which case the full chunk is returned).
func PrecursorRange(entries []PepEntry, pmass, dM float64) (minlimit, maxlimit int, found bool) {
	pmass1 := pmass - dM
	pmass2 := pmass + dM

	min := 0
	max := len(entries) - 1

	if dM < 0 {
		return min, max, false
	}

	switch {
	case pmass1 < entries[min].Mass:
		minlimit = min
	case pmass1 > entries[max].Mass:
		return max, max, false
	default:
		minlimit = binFindMin(entries, pmass1, min, max)
	}

	min = 0
	max = len(entries) - 1

	switch {
	case pmass2 > entries[max].Mass:
		maxlimit = max
	case pmass2 < entries[min].Mass:
		return min, min, false
	default:
		maxlimit = binFindMax(entries, pmass2, min, max)
	}

	if entries[maxlimit].Mass <= pmass2 && entries[minlimit].Mass >= pmass1 {
		found = true
	}

	return minlimit, maxlimit, found
}

// binFindMin locates the leftmost entry with Mass >= pmass1. On exact
// equality it walks left so duplicates are included.
func binFindMin(entries []PepEntry, pmass1 float64, min, max int) int {
	half := (min + max) / 2

	if max-min < linearCutoff {
		current := min
		for entries[current].Mass < pmass1 {
			current++
		}
		return current
	}

	if pmass1 > entries[half].Mass {
		return binFindMin(entries, pmass1, half, max)
	} else if pmass1 < entries[half].Mass {
		return binFindMin(entries, pmass1, min, half)
	}

	for half > 0 && entries[half-1].Mass == pmass1 {
		half--
	}

	return half
}

// binFindMax locates the rightmost entry with Mass <= pmass2. On exact
// equality it walks right so duplicates are included.
func binFindMax(entries []PepEntry, pmass2 float64, min, max int) int {
	half := (min + max) / 2

	if max-min < linearCutoff {
		current := max
		for entries[current].Mass > pmass2 {
			current--
		}
		return current
	}

	if pmass2 > entries[half].Mass {
		return binFindMax(entries, pmass2, half, max)
	} else if pmass2 < entries[half].Mass {
		return binFindMax(entries, pmass2, min, half)
	}

	for half < len(entries)-1 && entries[half+1].Mass == pmass2 {
		half++
	}

	return half
}
