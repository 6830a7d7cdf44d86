package acmehost

import "github.com/cptaffe/acme-flow/style"

// The compositor shifts layer runs itself when the body is edited.  These
// mirror its rules so the last written runs stay comparable with the next
// composition, and a repaint that lands where the compositor already put
// the colours is not written again.

// shiftInsert shifts and extends runs for an insertion of n runes at q0.
// Runes inserted strictly inside a run extend it; insertions at a boundary
// fall into the right neighbour.
func shiftInsert(runs []style.StyleRun, q0, n int) {
	for i := range runs {
		r := &runs[i]
		switch {
		case q0 <= r.Start:
			r.Start += n
			r.End += n
		case q0 < r.End:
			r.End += n
		}
	}
}

// shiftDelete applies deletion of runes [q0, q1) to runs.
func shiftDelete(runs []style.StyleRun, q0, q1 int) []style.StyleRun {
	n := q1 - q0
	out := runs[:0]
	for _, r := range runs {
		switch {
		case r.End <= q0:
			out = append(out, r)
		case r.Start >= q1:
			out = append(out, style.StyleRun{Name: r.Name, Start: r.Start - n, End: r.End - n})
		case r.Start < q0 && r.End > q1:
			out = append(out, style.StyleRun{Name: r.Name, Start: r.Start, End: r.End - n})
		case r.Start < q0:
			out = append(out, style.StyleRun{Name: r.Name, Start: r.Start, End: q0})
		case r.End > q1:
			out = append(out, style.StyleRun{Name: r.Name, Start: q0, End: r.End - n})
		}
	}
	return out
}

// diffRuns finds the smallest interval covering every difference between
// two sorted, non-overlapping run slices.
func diffRuns(old, new []style.StyleRun) (q0, q1 int, changed bool) {
	i, j := 0, 0
	for i < len(old) && j < len(new) && old[i] == new[j] {
		i++
		j++
	}
	if i == len(old) && j == len(new) {
		return 0, 0, false
	}

	ei, ej := len(old)-1, len(new)-1
	for ei >= i && ej >= j && old[ei] == new[ej] {
		ei--
		ej--
	}

	q0, q1 = -1, 0
	for _, rs := range [][]style.StyleRun{old[i : ei+1], new[j : ej+1]} {
		for _, r := range rs {
			if q0 < 0 || r.Start < q0 {
				q0 = r.Start
			}
			if r.End > q1 {
				q1 = r.End
			}
		}
	}
	if q0 < 0 || q0 >= q1 {
		return 0, 0, false
	}
	return q0, q1, true
}
