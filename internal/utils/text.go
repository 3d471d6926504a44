package utils

import (
	"regexp"
	"strings"
)

// StripCodeFence removes a surrounding Markdown code fence such as
// ```json ... ``` and trims whitespace. Text without a fence is only trimmed.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string ("json", "JSON", ...) up to the first newline.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		if info := strings.TrimSpace(s[:i]); !strings.ContainsAny(info, "{[\"") {
			s = s[i+1:]
		}
	} else {
		s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

var numberedLine = regexp.MustCompile(`^\s*\d+\.\s*\S`)

// ExtractNumberedQuestions collects "1. ..." style entries from text.
// Lines that follow an entry without a number of their own are folded into it.
func ExtractNumberedQuestions(text string) []string {
	var questions []string
	var cur []string

	flush := func() {
		if len(cur) > 0 {
			questions = append(questions, strings.Join(cur, " "))
			cur = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case numberedLine.MatchString(line):
			flush()
			cur = append(cur, trimmed)
		case len(cur) > 0 && trimmed != "":
			cur = append(cur, trimmed)
		case trimmed == "":
			flush()
		}
	}
	flush()
	return questions
}
