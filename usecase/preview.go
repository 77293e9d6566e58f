package usecase

import (
	"strconv"
	"strings"
)

// PreviewLimit is how many primes a preview shows.
const PreviewLimit = 100

// Preview renders at most limit values joined by ", ", followed by ", ..."
// when values were left out.
func Preview(values []int, limit int) string {
	n := min(len(values), limit)
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(values[i]))
	}
	if len(values) > n {
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString("...")
	}
	return b.String()
}
