package contract

import (
	"regexp"
	"strings"
	"sync"
)

// globCache memoizes compiled glob patterns; constraint pattern lists are
// reused across every tool call in a run's lifetime.
var (
	globCacheMu sync.Mutex
	globCache   = map[string]*regexp.Regexp{}
)

// MatchGlob reports whether path matches pattern under spec §4.3's glob
// semantics: `*` matches any run of characters excluding `/`, `**` matches
// any run including `/`, `?` matches a single character, and the pattern is
// anchored at both ends.
func MatchGlob(pattern, path string) bool {
	re := compileGlob(pattern)
	return re.MatchString(path)
}

func compileGlob(pattern string) *regexp.Regexp {
	globCacheMu.Lock()
	defer globCacheMu.Unlock()
	if re, ok := globCache[pattern]; ok {
		return re
	}
	re := regexp.MustCompile("^" + globToRegex(pattern) + "$")
	globCache[pattern] = re
	return re
}

func globToRegex(pattern string) string {
	var b strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
