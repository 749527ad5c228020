package delta

import (
	"unicode/utf8"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// Diff returns the edit script turning from into to, or false when the two
// texts are identical. Trailing retains are kept, so the result always has a
// base length equal to the length of from.
func Diff(from, to string) (Delta, bool) {
	if from == to {
		return Delta{}, false
	}
	diffCfg := diffpatch.New()
	// No deadline: a timed out diff is still valid but no longer minimal,
	// and the delta goes into the revision log as is.
	diffCfg.DiffTimeout = 0
	diffs := diffCfg.DiffMain(from, to, false)

	b := NewBuilder()
	for i := range diffs {
		diff := &diffs[i]
		switch diff.Type {
		case diffpatch.DiffEqual:
			b.Retain(utf8.RuneCountInString(diff.Text))
		case diffpatch.DiffInsert:
			b.Insert(diff.Text)
		case diffpatch.DiffDelete:
			b.Delete(utf8.RuneCountInString(diff.Text))
		}
	}
	return b.Build(), true
}
