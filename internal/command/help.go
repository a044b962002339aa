package command

import (
	"strings"

	"github.com/smartyhall/meshbbs/internal/session"
)

// buildHelp composes the role-gated HELP output. A section is included iff s.UserLevel meets its gate.
// The first HELP issued by a session includes a one-line "Shortcuts: …"
// hint; subsequent HELPs within the same session omit it.
func (p *Processor) buildHelp(s *session.Session) string {
	var b strings.Builder
	b.WriteString("Commands: H M P Q T\n")

	if !s.LoggedIn {
		b.WriteString("Auth: REGISTER <user> <pass> or LOGIN <user> [pass]\n")
	}
	if s.LoggedIn && s.UserLevel >= 1 {
		b.WriteString("ACCT: PASSWORD <new>\n")
	}
	if s.LoggedIn && s.UserLevel >= 5 {
		b.WriteString("MOD: D<n> P<n> R<n> <title> K\n")
	}
	if s.LoggedIn && s.UserLevel >= 10 {
		b.WriteString("ADM: Roles/logging: PROMOTE <user> <lvl>, SYSLOG\n")
	}

	if !s.FirstHelpSeen {
		b.WriteString("Shortcuts: M=messages P=prefs Q=quit\n")
		s.FirstHelpSeen = true
	}
	return strings.TrimRight(b.String(), "\n")
}

// buildExtendedHelp composes HELP+'s multi-chunk extended help. The
// command-level chunking into payload-sized pieces with prompt-suffix
// placement is the responsibility of internal/chunk, applied by the
// caller (the BBS server core) around the processor's reply.
func (p *Processor) buildExtendedHelp(s *session.Session) string {
	base := p.buildHelp(s)
	return base + "\nExtended: topics are numbered 1-9; R lists recent; N starts a new thread."
}
