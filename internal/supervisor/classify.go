package supervisor

import (
	"regexp"
	"strings"

	"github.com/loykin/steamkeeper/internal/logs"
)

// updateState matches progress lines such as
// "Update state (0x61) downloading, progress: 45.12 (...)".
var updateState = regexp.MustCompile(`(?i)update state \(0x[0-9a-f]+\) ([a-z ]+?)(?:,|$)`)

// classify maps one line of tool output to a level and, for progress
// lines, the reported update state.
func classify(text string) (logs.Level, string) {
	lower := strings.ToLower(text)
	if containsAny(lower, logs.DefaultFailureKeywords) {
		return logs.LevelError, ""
	}
	if containsAny(lower, logs.DefaultSuccessKeywords) {
		return logs.LevelSuccess, ""
	}
	if strings.Contains(lower, "warning") {
		return logs.LevelWarning, ""
	}
	if m := updateState.FindStringSubmatch(text); m != nil {
		return logs.LevelInfo, strings.ToLower(strings.TrimSpace(m[1]))
	}
	return logs.LevelInfo, ""
}

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
