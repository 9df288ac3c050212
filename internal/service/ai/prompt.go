package ai

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// DefaultSystemPrompt is used when no prompt file is configured. Deployments
// normally ship their own instructions and form schema.
const DefaultSystemPrompt = `You are an onboarding assistant helping a user fill in a file transfer onboarding form.
Ask one question at a time and keep answers short.
When the user's answer determines a form field, end your reply with
Form Update Available: ` + "```json {\"<fieldName>\": <value>}```" + `
When the user sends REPORT-LAST-ANSWER, reply with only a JSON object holding the
fields changed by the user's last answer, or {} when nothing changed.`

// LoadSystemPrompt reads the prompt file at path, falling back to
// DefaultSystemPrompt when path is empty.
func LoadSystemPrompt(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "read system prompt %s", path)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.Errorf("system prompt %s is empty", path)
	}
	return prompt, nil
}
