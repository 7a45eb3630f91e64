package taskcfg

import (
	"fmt"
	"os"
	"strings"
)

// CriteriaPlaceholder marks where the per-task rubric is spliced into the
// base prompt.
const CriteriaPlaceholder = "{{CRITERIA_SECTION}}"

// ComposePrompt reads the base prompt skeleton and substitutes the task's
// criteria file into the placeholder. When the base carries no placeholder
// the criteria is appended after a blank line.
func ComposePrompt(baseFile, criteriaFile string) (string, error) {
	base, err := os.ReadFile(baseFile)
	if err != nil {
		return "", fmt.Errorf("read base prompt %s: %w", baseFile, err)
	}
	criteria, err := os.ReadFile(criteriaFile)
	if err != nil {
		return "", fmt.Errorf("read criteria %s: %w", criteriaFile, err)
	}
	text := string(base)
	if strings.Contains(text, CriteriaPlaceholder) {
		text = strings.ReplaceAll(text, CriteriaPlaceholder, string(criteria))
	} else {
		text = text + "\n\n" + string(criteria)
	}
	return text, nil
}

// promptDefect reports why a composed prompt looks broken, or "" if it looks
// fine. Defective prompts are logged and used anyway.
func promptDefect(text string) string {
	if len([]rune(text)) < 100 {
		return "composed prompt shorter than 100 chars"
	}
	if strings.Contains(text, CriteriaPlaceholder) {
		return "criteria placeholder left unsubstituted"
	}
	return ""
}
