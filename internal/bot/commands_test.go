package bot

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in, cmd, payload string
	}{
		{"/help", "/help", ""},
		{"  /HELP  ", "/help", ""},
		{"/help me please", "/help", "me please"},
		{"/help@web2pdf_bot", "/help", ""},
		{"/help\nmore", "/help", "more"},
		{"hello /help", "", ""},
		{"/", "", ""},
		{"", "", ""},
		{"http://example.com", "", ""},
	}
	for _, c := range cases {
		cmd, payload := ParseCommand(c.in)
		if cmd != c.cmd || payload != c.payload {
			t.Errorf("ParseCommand(%q) = (%q, %q), want (%q, %q)", c.in, cmd, payload, c.cmd, c.payload)
		}
	}
}
