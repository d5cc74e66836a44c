package scorer

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Degraded-result placeholders used when the oracle's answer is missing a
// section. The row still gets written back, just with defaults.
const (
	DefaultSummary = "No assessment available."
	DefaultMessage = "No outreach message was generated for this lead."
)

var sectionLabels = []string{"SUMMARY:", "SCORE:", "POSSIBLE CLIENT:", "MESSAGE:"}

var firstInt = regexp.MustCompile(`-?\d+`)

// Parse extracts the labeled sections from an oracle response. It never
// fails: any missing or malformed section is replaced with a default and the
// result is flagged Degraded. Qualification is decided by the threshold, not
// by the oracle's own POSSIBLE CLIENT answer, which is kept separately.
func Parse(text string, threshold, defaultScore int) model.ScoreResult {
	sections := splitSections(text)

	res := model.ScoreResult{
		Summary: sections["SUMMARY:"],
		Message: sections["MESSAGE:"],
	}

	if res.Summary == "" {
		res.Summary = DefaultSummary
		res.Degraded = true
	}
	if res.Message == "" {
		res.Message = DefaultMessage
		res.Degraded = true
	}

	if raw, ok := sections["SCORE:"]; ok {
		if m := firstInt.FindString(raw); m != "" {
			n, err := strconv.Atoi(m)
			if err == nil {
				res.Score = clampScore(n)
			} else {
				res.Score = defaultScore
				res.Degraded = true
			}
		} else {
			res.Score = defaultScore
			res.Degraded = true
		}
	} else {
		res.Score = defaultScore
		res.Degraded = true
	}

	res.Qualifies = res.Score >= threshold

	if raw, ok := sections["POSSIBLE CLIENT:"]; ok {
		res.OracleQualifies = strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "yes")
	} else {
		res.OracleQualifies = res.Qualifies
	}

	if res.Degraded {
		zap.L().Debug("scorer: degraded oracle response",
			zap.Int("score", res.Score),
			zap.Int("response_chars", len(text)),
		)
	}
	return res
}

// splitSections walks the response line by line, assigning each line to the
// most recently seen label. Content before the first label is discarded.
func splitSections(text string) map[string]string {
	out := make(map[string]string, len(sectionLabels))
	var current string

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		matched := false
		for _, label := range sectionLabels {
			if rest, ok := stripLabel(trimmed, label); ok {
				current = label
				out[label] = rest
				matched = true
				break
			}
		}
		if matched || current == "" {
			continue
		}
		if trimmed == "" {
			continue
		}
		if out[current] == "" {
			out[current] = trimmed
		} else {
			out[current] += "\n" + trimmed
		}
	}
	return out
}

func stripLabel(line, label string) (string, bool) {
	if len(line) < len(label) || !strings.EqualFold(line[:len(label)], label) {
		return "", false
	}
	return strings.TrimSpace(line[len(label):]), true
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
