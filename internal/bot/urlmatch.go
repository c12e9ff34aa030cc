package bot

import (
	"regexp"

	"web2pdfbot/internal/domain"
)

// urlPattern is a permissive link detector, not a validator. The `$-_` in the
// third alternative is a character range (0x24-0x5F): it admits `/ : ; = ?`
// and brackets, while spaces, `"`, `#`, `~` and braces end the match.
var urlPattern = regexp.MustCompile(`http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*(),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)

// FindURL returns the first http(s) link in text, or "" if there is none.
func FindURL(text string) string {
	return urlPattern.FindString(text)
}

// TargetURL decides which URL a message asks for. A detected link always
// wins; otherwise the whole text is taken as the URL, but only in one-to-one
// chats.
func TargetURL(text string, chat domain.ChatType) (string, bool) {
	if u := FindURL(text); u != "" {
		return u, true
	}
	if text != "" && chat == domain.ChatSingle {
		return text, true
	}
	return "", false
}
