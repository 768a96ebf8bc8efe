package parser

import (
	"strings"

	"mathblocks/internal/logger"
)

// PrepareTeX normalizes newlines to \n, removes comments and collapses
// consecutive empty lines into one. Escaped percent signs (\%) are kept.
func PrepareTeX(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	result := make([]string, 0, len(lines))
	lastWasEmpty := false

	for _, line := range lines {
		line = removeLineComment(line)

		if strings.TrimSpace(line) == "" {
			if !lastWasEmpty {
				result = append(result, "")
				lastWasEmpty = true
			}
			continue
		}
		lastWasEmpty = false
		result = append(result, line)
	}

	prepared := strings.Join(result, "\n")

	logger.Debug("prepared TeX source",
		logger.Component("tex"),
		logger.Int("originalLength", len(content)),
		logger.Int("preparedLength", len(prepared)),
		logger.Int("originalLines", len(lines)),
		logger.Int("preparedLines", len(result)))

	return prepared
}

// removeLineComment cuts a line at its first unescaped %. A percent sign
// preceded by an odd number of backslashes is escaped.
func removeLineComment(line string) string {
	i := 0
	for i < len(line) {
		idx := strings.IndexByte(line[i:], '%')
		if idx == -1 {
			return line
		}
		pos := i + idx

		backslashes := 0
		for j := pos - 1; j >= 0 && line[j] == '\\'; j-- {
			backslashes++
		}
		if backslashes%2 == 1 {
			i = pos + 1
			continue
		}
		return strings.TrimRight(line[:pos], " \t")
	}
	return line
}
