package monitor

import "regexp"

// rule couples a pattern type with its detection regex. The table is
// ordered; the first matching rule wins per evaluation.
type rule struct {
	patternType string
	re          *regexp.Regexp
}

var rules = []rule{
	// task_complete
	{"task_complete", regexp.MustCompile(`(?i)TASK[\s_-]*COMPLETE`)},
	{"task_complete", regexp.MustCompile(`Task completed successfully`)},
	{"task_complete", regexp.MustCompile(`All done!`)},
	{"task_complete", regexp.MustCompile(`Finished!`)},
	{"task_complete", regexp.MustCompile(`completed the task`)},

	// question
	{"question", regexp.MustCompile(`(?m)\?\s*$`)},
	{"question", regexp.MustCompile(`Would you like me to`)},
	{"question", regexp.MustCompile(`Should I`)},
	{"question", regexp.MustCompile(`Do you want`)},
	{"question", regexp.MustCompile(`Please confirm`)},
	{"question", regexp.MustCompile(`(?i)waiting for.*input`)},

	// error
	{"error", regexp.MustCompile(`error:`)},
	{"error", regexp.MustCompile(`Error:`)},
	{"error", regexp.MustCompile(`fatal:`)},
	{"error", regexp.MustCompile(`FAILED`)},
	{"error", regexp.MustCompile(`exception:`)},
	{"error", regexp.MustCompile(`panic:`)},
	{"error", regexp.MustCompile(`Traceback \(most recent call last\)`)},

	// rate_limit
	{"rate_limit", regexp.MustCompile(`(?i)rate.?limit`)},
	{"rate_limit", regexp.MustCompile(`(?i)too many requests`)},
	{"rate_limit", regexp.MustCompile(`429`)},
	{"rate_limit", regexp.MustCompile(`(?i)throttl`)},

	// ready
	{"ready", regexp.MustCompile(`How can I help`)},
	{"ready", regexp.MustCompile(`What would you like`)},
	{"ready", regexp.MustCompile(`Ready for input`)},
	{"ready", regexp.MustCompile(`(?m)^>\s*$`)},
}

// ansiEscape matches CSI and OSC escape sequences so carriage-return
// spinners and colour codes never confuse the rules.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*(\x07|\x1b\\)`)

func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// match returns the first matching rule's type, or "".
func match(text string) string {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return r.patternType
		}
	}
	return ""
}
