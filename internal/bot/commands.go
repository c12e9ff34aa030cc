package bot

import (
	"strings"
	"unicode"
)

// HelpCommand is the only command the bot answers.
const HelpCommand = "/help"

const helpText = "I'm a bot, I allow to retrieve HTML pages as PDF." +
	" Just send me any link to a website you would like to save as PDF."

const failureText = "Failed to retrieve web site, is the URL correct?"

// ParseCommand splits a "/command payload" message. The command keeps its
// leading slash, is lowercased and loses any "@botname" suffix. Both results
// are empty if text is not a command.
func ParseCommand(text string) (command, payload string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}

	name, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		name, rest = text[:i], text[i:]
	}
	if at := strings.Index(name, "@"); at > 0 {
		name = name[:at]
	}
	if len(name) < 2 {
		return "", ""
	}
	return strings.ToLower(name), strings.TrimSpace(rest)
}
