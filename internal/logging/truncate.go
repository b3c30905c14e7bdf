package logging

// MaxLogFieldLength caps the length of free-form log fields such as remote
// command output.
const MaxLogFieldLength = 1024

// Truncate shortens s to MaxLogFieldLength bytes, appending "..." when
// anything was cut off.
func Truncate(s string) string {
	return TruncateN(s, MaxLogFieldLength)
}

// TruncateN shortens s to at most n bytes, appending "..." when anything was
// cut off.
func TruncateN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
