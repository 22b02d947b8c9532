package task

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"
)

// Identity names a schema change for the lifetime of the schema history: a release
// (e.g. "5_4_0") plus an ordering key within that release (e.g. "20210722.3").
type Identity struct {
	Release string `yaml:"release" json:"release"`
	Order   string `yaml:"order" json:"order"`
}

// NewIdentity trims both components.
func NewIdentity(release, order string) Identity {
	return Identity{Release: strings.TrimSpace(release), Order: strings.TrimSpace(order)}
}

func (i Identity) String() string {
	return i.Release + "." + i.Order
}

// IsZero reports whether both components are empty. The zero identity is reserved
// for the ledger lock row.
func (i Identity) IsZero() bool {
	return i.Release == "" && i.Order == ""
}

// Validate rejects identities that cannot be stored as a ledger key.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.Release) == "" {
		return fmt.Errorf("task identity %q: release is empty", i.String())
	}
	if strings.TrimSpace(i.Order) == "" {
		return fmt.Errorf("task identity %q: order is empty", i.String())
	}
	return nil
}

// Compare orders identities by release, then by order. It returns -1, 0 or +1.
func (i Identity) Compare(o Identity) int {
	if c := compareComponent(i.Release, o.Release); c != 0 {
		return c
	}
	return compareComponent(i.Order, o.Order)
}

// Less reports whether i sorts before o.
func (i Identity) Less(o Identity) bool {
	return i.Compare(o) < 0
}

// compareComponent orders identity components. Components that parse as versions
// sort before free-form ones and compare by version precedence; free-form
// components, and versions of equal precedence, compare naturally. Every
// process therefore sorts the same task set the same way.
func compareComponent(a, b string) int {
	if a == b {
		return 0
	}
	va, errA := semver.NewVersion(normalizeVersion(a))
	vb, errB := semver.NewVersion(normalizeVersion(b))
	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return naturalCompare(a, b)
}

// normalizeVersion accepts the underscore-separated release names ("5_4_0") used by
// schema histories.
func normalizeVersion(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "_", ".")
}

// naturalCompare splits both strings into digit and non-digit runs; digit runs
// compare numerically, the rest lexically.
func naturalCompare(a, b string) int {
	ra, rb := splitRuns(a), splitRuns(b)
	for k := 0; k < len(ra) && k < len(rb); k++ {
		x, y := ra[k], rb[k]
		if x == y {
			continue
		}
		nx, errX := strconv.ParseUint(x, 10, 64)
		ny, errY := strconv.ParseUint(y, 10, 64)
		if errX == nil && errY == nil {
			if nx != ny {
				if nx < ny {
					return -1
				}
				return 1
			}
			// "01" vs "1": fall through to the lexical tie-break
		}
		if x < y {
			return -1
		}
		return 1
	}
	switch {
	case len(ra) < len(rb):
		return -1
	case len(ra) > len(rb):
		return 1
	}
	return strings.Compare(a, b)
}

func splitRuns(s string) []string {
	var runs []string
	start := 0
	for k := 1; k <= len(s); k++ {
		if k == len(s) || unicode.IsDigit(rune(s[k])) != unicode.IsDigit(rune(s[k-1])) {
			runs = append(runs, s[start:k])
			start = k
		}
	}
	return runs
}
