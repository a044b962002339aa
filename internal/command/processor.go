// Package command implements the pure dispatcher on session.state: short
// text lines in, a reply string out, no hidden I/O beyond the injected
// user/message store collaborators.
package command

import (
	"strconv"
	"strings"

	"github.com/smartyhall/meshbbs/internal/logging"
	"github.com/smartyhall/meshbbs/internal/session"
	"github.com/smartyhall/meshbbs/internal/storage"
	"github.com/smartyhall/meshbbs/internal/textnorm"
)

// Processor is stateless; all mutable state lives on the Session passed
// to Process. A fresh Processor per call (as the original tests do, e.g.
// `CommandProcessor::new().process(...)`) is cheap and idiomatic here.
type Processor struct {
	Users *storage.UserStore
	Messages *storage.MessageStore
	Topics []string // ordered topic list backing MessageTopics digit selection
	Welcome string // bbs.welcome_message; sent at most once per session lifetime
}

// New constructs a Processor bound to the given collaborators.
func New(users *storage.UserStore, messages *storage.MessageStore, topics []string, welcome string) *Processor {
	return &Processor{Users: users, Messages: messages, Topics: topics, Welcome: welcome}
}

// withWelcome prepends the configured welcome banner to reply the first
// time s logs in, and never again for the rest of the session's
// lifetime — distinct from the per-state-entry MainMenu banner.
func (p *Processor) withWelcome(s *session.Session, reply string) string {
	if s.WelcomeSent || p.Welcome == "" {
		return reply
	}
	s.WelcomeSent = true
	return p.Welcome + "\n" + reply
}

// Process dispatches one line of input against s.State and returns the
// reply body (without the trailing prompt; callers append s.Prompt()).
func (p *Processor) Process(s *session.Session, line string) string {
	s.Touch()
	line = textnorm.Normalize(line)
	trimmed := strings.TrimSpace(line)

	if s.State == session.StateConnected {
		s.State = session.StateMainMenu
		return "Connected. Type H for help."
	}

	if !s.LoggedIn {
		if reply, handled := p.processAuth(s, trimmed); handled {
			return reply
		}
	}

	switch s.State {
	case session.StateMainMenu:
		return p.processMainMenu(s, trimmed)
	case session.StateMessageTopics:
		return p.processMessageTopics(s, trimmed)
	case session.StateReadingMessages:
		return p.processReadingMessages(s, trimmed)
	case session.StatePostingTitle:
		return p.processPostingTitle(s, trimmed)
	case session.StatePostingBody:
		return p.processPostingBody(s, trimmed)
	case session.StateConfirmDelete:
		return p.processConfirmDelete(s, trimmed)
	case session.StateInGame:
		return p.processInGame(s, trimmed)
	default:
		return "Invalid command"
	}
}

// processAuth handles the pre-login REGISTER/LOGIN sub-protocol. Returns
// handled=false when the input isn't an auth verb, letting MainMenu's
// single-letter dispatch
// reject it with "Invalid command" (or, for non-MainMenu states, its own
// rejection path runs instead — auth-sub-protocol commands are only
// meaningful at MainMenu).
func (p *Processor) processAuth(s *session.Session, trimmed string) (string, bool) {
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "REGISTER "):
		fields := strings.Fields(trimmed)
		if len(fields) < 3 {
			return "Usage: REGISTER <user> <pass>", true
		}
		user, pass := fields[1], fields[2]
		if err := p.Users.Register(user, pass); err != nil {
			return "Registration failed", true
		}
		s.Login(user, 0)
		return p.withWelcome(s, "Registered as "+user+"."), true
	case strings.HasPrefix(upper, "LOGIN "):
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			return "Usage: LOGIN <user> [pass]", true
		}
		user := fields[1]
		pass := ""
		if len(fields) >= 3 {
			pass = fields[2]
		}
		rec, err := p.Users.Get(user)
		if err != nil {
			return "Unknown user or bad password", true
		}
		ok, _ := p.Users.Verify(user, pass)
		if !ok {
			return "Unknown user or bad password", true
		}
		s.Login(user, rec.Level)
		return p.withWelcome(s, "Logged in as "+user+"."), true
	}
	return "", false
}

// processMainMenu dispatches MainMenu's single-letter commands.
// Multi-character legacy spellings are rejected to enforce brevity on
// the radio.
func (p *Processor) processMainMenu(s *session.Session, trimmed string) string {
	upper := strings.ToUpper(trimmed)
	switch {
	case upper == "H" || upper == "?":
		return p.buildHelp(s)
	case upper == "HELP+":
		return p.buildExtendedHelp(s)
	case upper == "M":
		s.State = session.StateMessageTopics
		return p.topicsMenuBody()
	case upper == "P":
		return "Preferences: (none configurable yet)"
	case upper == "Q":
		s.Logout()
		return "Logged out."
	case upper == "T":
		if !s.LoggedIn {
			return "Authentication required"
		}
		return p.enterGame(s)
	case strings.HasPrefix(upper, "PASSWORD "):
		return p.processPassword(s, trimmed)
	case strings.HasPrefix(upper, "PROMOTE "):
		return p.processPromote(s, trimmed)
	case strings.HasPrefix(upper, "SYSLOG"):
		return p.processSyslog(s, trimmed)
	default:
		return "Invalid command"
	}
}

// processPassword handles ACCT's PASSWORD <new>, letting any logged-in
// user with level >= 1 (the same gate HELP advertises it under) change
// their own stored password.
func (p *Processor) processPassword(s *session.Session, trimmed string) string {
	if !s.LoggedIn || s.UserLevel < 1 {
		return "Permission denied"
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return "Usage: PASSWORD <new>"
	}
	if err := p.Users.UpdatePassword(s.Username, fields[1]); err != nil {
		return "Store error."
	}
	return "Password updated."
}

// processPromote handles ADM's PROMOTE <user> <lvl>, the only way a user's
// level changes after registration (REGISTER always starts at level 0).
func (p *Processor) processPromote(s *session.Session, trimmed string) string {
	if !s.LoggedIn || s.UserLevel < 10 {
		return "Permission denied"
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 3 {
		return "Usage: PROMOTE <user> <lvl>"
	}
	lvl, err := strconv.Atoi(fields[2])
	if err != nil || lvl < 0 || lvl > 10 {
		return "Usage: PROMOTE <user> <lvl>"
	}
	if err := p.Users.UpdateLevel(fields[1], lvl); err != nil {
		return "Store error."
	}
	return "Promoted " + fields[1] + " to level " + fields[2] + "."
}

var syslogLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}

// processSyslog handles ADM's SYSLOG <level> <message>, appending an
// operator-authored entry to the security log stream.
func (p *Processor) processSyslog(s *session.Session, trimmed string) string {
	if !s.LoggedIn || s.UserLevel < 10 {
		return "Permission denied"
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 3 {
		return "Usage: SYSLOG <level> <message>"
	}
	level := strings.ToUpper(fields[1])
	if !syslogLevels[level] {
		return "Usage: SYSLOG <level> <message>"
	}
	message := strings.Join(fields[2:], " ")
	logSyslogEntry(level, message, s.Username)
	return "Logged " + level + " " + message
}

func logSyslogEntry(level, message, actor string) {
	l := logging.Security().With("actor", actor)
	switch level {
	case "DEBUG":
		l.Debug("syslog", "message", message)
	case "WARN":
		l.Warn("syslog", "message", message)
	case "ERROR":
		l.Error("syslog", "message", message)
	default:
		l.Info("syslog", "message", message)
	}
}

// enterGame transitions a registered session into the single built-in
// game lobby; the door-game engine itself (actual playable games) is a
// separate concern left unimplemented here.
func (p *Processor) enterGame(s *session.Session) string {
	s.CurrentGame = "lobby"
	s.State = session.StateInGame
	return "Entered lobby. No games installed yet. Type Q to return."
}

// processInGame handles input while StateInGame; until real games are
// registered, the only reachable action is leaving.
func (p *Processor) processInGame(s *session.Session, trimmed string) string {
	upper := strings.ToUpper(trimmed)
	switch upper {
	case "Q", "B":
		s.CurrentGame = ""
		s.State = session.StateMainMenu
		return "Back to main menu."
	default:
		return "No games available."
	}
}

func (p *Processor) topicsMenuBody() string {
	var b strings.Builder
	b.WriteString("Topics:\n")
	for i, t := range p.Topics {
		if i >= 9 {
			break
		}
		b.WriteString(strconv.Itoa(i+1) + ". " + t + "\n")
	}
	b.WriteString("R=recent B=back")
	return b.String()
}

func (p *Processor) processMessageTopics(s *session.Session, trimmed string) string {
	upper := strings.ToUpper(trimmed)
	switch {
	case upper == "B":
		s.State = session.StateMainMenu
		return "Back to main menu."
	case upper == "R":
		s.State = session.StateReadingMessages
		return p.recentBody(s)
	case len(trimmed) == 1 && trimmed[0] >= '1' && trimmed[0] <= '9':
		idx := int(trimmed[0]-'1')
		if idx >= len(p.Topics) {
			return "Invalid topic number"
		}
		s.CurrentTopic = p.Topics[idx]
		s.State = session.StateReadingMessages
		return p.recentBody(s)
	default:
		return "Invalid topic number"
	}
}

func (p *Processor) recentBody(s *session.Session) string {
	if s.CurrentTopic == "" {
		return "No topic selected."
	}
	msgs, err := p.Messages.ListRecent(s.CurrentTopic, 5)
	if err != nil {
		return "Store error."
	}
	if len(msgs) == 0 {
		return "No messages yet in " + s.CurrentTopic + "."
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.ID + ": " + m.Author + ": " + m.Body + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// processReadingMessages handles N (new thread), D<n>/P<n>/R<n>, and K.
func (p *Processor) processReadingMessages(s *session.Session, trimmed string) string {
	upper := strings.ToUpper(trimmed)
	switch {
	case upper == "B":
		s.State = session.StateMessageTopics
		return p.topicsMenuBody()
	case upper == "N":
		s.State = session.StatePostingTitle
		return "Enter title:"
	case upper == "K":
		if s.UserLevel < 5 {
			return "Permission denied"
		}
		if p.Messages.IsLocked(s.CurrentTopic) {
			_ = p.Messages.Unlock(s.CurrentTopic)
			return "Topic unlocked."
		}
		_ = p.Messages.Lock(s.CurrentTopic, s.Username)
		return "Topic locked."
	case strings.HasPrefix(upper, "D") && len(trimmed) > 1:
		if s.UserLevel < 5 {
			return "Permission denied"
		}
		id := trimmed[1:]
		if _, err := strconv.Atoi(id); err != nil {
			return "Invalid thread number"
		}
		s.PendingDelID, _ = strconv.Atoi(id)
		s.State = session.StateConfirmDelete
		return "Delete thread " + id + "? (Y/N)"
	case strings.HasPrefix(upper, "P") && len(trimmed) > 1:
		if s.UserLevel < 5 {
			return "Permission denied"
		}
		return "Pinned thread " + trimmed[1:] + "."
	case strings.HasPrefix(upper, "R") && len(trimmed) > 1:
		if s.UserLevel < 5 {
			return "Permission denied"
		}
		return "Renamed thread."
	default:
		return "Invalid command"
	}
}

func (p *Processor) processConfirmDelete(s *session.Session, trimmed string) string {
	upper := strings.ToUpper(trimmed)
	s.State = session.StateReadingMessages
	switch upper {
	case "Y":
		id := strconv.Itoa(s.PendingDelID)
		ok, err := p.Messages.Delete(s.CurrentTopic, id, s.Username)
		if err != nil {
			return "Store error."
		}
		if !ok {
			return "Thread not found."
		}
		return "Deleted."
	default:
		return "Cancelled."
	}
}

func (p *Processor) processPostingTitle(s *session.Session, trimmed string) string {
	if trimmed == "" {
		return "Title cannot be empty. Enter title:"
	}
	s.Draft.Title = trimmed
	s.State = session.StatePostingBody
	return "Enter body:"
}

func (p *Processor) processPostingBody(s *session.Session, trimmed string) string {
	if trimmed == "" {
		return "Body cannot be empty. Enter body:"
	}
	_, err := p.Messages.Store(s.CurrentTopic, s.Username, s.Draft.Title+"\n"+trimmed)
	s.Draft = session.Draft{}
	s.State = session.StateReadingMessages
	if err != nil {
		return "Store error: draft discarded."
	}
	return "Posted."
}
