package targeting

import (
	"strconv"
	"strings"
)

// CompareVersions orders two version strings and returns -1, 0 or 1.
//
// The string is split on the first '-' into a main part and a prerelease.
// Main parts compare component by component as integers, missing or
// non-numeric components counting as 0. With equal main parts a release
// sorts after any prerelease, and two prereleases compare lexicographically.
func CompareVersions(a, b string) int {
	aMain, aPre, aHasPre := strings.Cut(strings.TrimSpace(a), "-")
	bMain, bPre, bHasPre := strings.Cut(strings.TrimSpace(b), "-")

	if c := compareMain(aMain, bMain); c != 0 {
		return c
	}

	switch {
	case !aHasPre && !bHasPre:
		return 0
	case !aHasPre:
		return 1
	case !bHasPre:
		return -1
	default:
		return strings.Compare(aPre, bPre)
	}
}

func compareMain(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	n := max(len(as), len(bs))
	for i := 0; i < n; i++ {
		av := component(as, i)
		bv := component(bs, i)
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

func component(parts []string, i int) int64 {
	if i >= len(parts) {
		return 0
	}
	v, err := strconv.ParseInt(parts[i], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
