package sys

import (
	"fmt"
	"os"
	"runtime/debug"
)

// SafeGo runs f in a goroutine and logs a recovered panic with its stack.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError("Panic recovered: %v", r)
				fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
			}
		}()
		f()
	}()
}

func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// TruncateCenter keeps both ends of s.
func TruncateCenter(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	k := (maxLen - 3) / 2
	return string(r[:k]) + "..." + string(r[len(r)-k:])
}

// TruncateWithPreserve shortens text while keeping prefix and suffix intact.
func TruncateWithPreserve(text string, maxLen int, prefix, suffix string) string {
	fixedLen := len([]rune(prefix)) + len([]rune(suffix))
	if fixedLen >= maxLen-10 {
		return TruncateCenter(prefix+text+suffix, maxLen)
	}
	return prefix + TruncateCenter(text, maxLen-fixedLen) + suffix
}
