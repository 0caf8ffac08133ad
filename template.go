package playermail

import (
	"strconv"
	"strings"
)

// Vars are the values substituted into message templates.
type Vars struct {
	Server   string
	Sender   string
	Player   string
	Receiver string
	Count    int64
}

// Render replaces {SERVER}, {SENDER}, {PLAYER}, {COUNT} and {RECEIVER}
// in tmpl. Unknown placeholders are left as they are.
func Render(tmpl string, v Vars) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	return strings.NewReplacer(
		"{SERVER}", v.Server,
		"{SENDER}", v.Sender,
		"{PLAYER}", v.Player,
		"{COUNT}", strconv.FormatInt(v.Count, 10),
		"{RECEIVER}", v.Receiver,
	).Replace(tmpl)
}

// vars returns Vars with the server name filled in.
func (s *service) vars() Vars {
	return Vars{Server: s.opts.serverName}
}
