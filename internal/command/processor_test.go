package command

import (
	"strings"
	"testing"

	"github.com/smartyhall/meshbbs/internal/session"
	"github.com/smartyhall/meshbbs/internal/storage"
)

func newProcessor(t *testing.T) *Processor {
	t.Helper()
	dir := t.TempDir()
	us, err := storage.NewUserStore(dir)
	if err != nil {
		t.Fatalf("NewUserStore: %v", err)
	}
	ms, err := storage.NewMessageStore(dir, 230)
	if err != nil {
		t.Fatalf("NewMessageStore: %v", err)
	}
	return New(us, ms, []string{"general", "offtopic"}, "Welcome to the BBS.")
}

func TestConnectedTransitionsOnAnyInput(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	reply := p.Process(s, "anything")
	if s.State != session.StateMainMenu {
		t.Fatalf("expected transition to MainMenu, got %v", s.State)
	}
	if strings.Contains(reply, "Auth:") {
		t.Fatalf("Connected banner must be terse, not the full welcome banner: %q", reply)
	}
}

func TestRegisterLogsInAndWelcomes(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x") // Connected -> MainMenu
	reply := p.Process(s, "REGISTER testuser pass1234")
	if !s.LoggedIn || s.Username != "testuser" {
		t.Fatalf("expected session logged in as testuser, got %+v", s)
	}
	if !strings.Contains(reply, "Registered as") {
		t.Fatalf("expected registration confirmation, got %q", reply)
	}
	if len(reply) > 230 {
		t.Fatalf("reply exceeds payload ceiling: %d bytes", len(reply))
	}
}

func TestFirstHelpIncludesAuthHintNotLegacyBanner(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	reply := p.Process(s, "H")
	if !strings.Contains(reply, "Auth: REGISTER <user> <pass> or LOGIN <user> [pass]") {
		t.Fatalf("expected auth hint in guest HELP, got %q", reply)
	}
	if strings.Contains(reply, "Use REGISTER <name> <pass>") {
		t.Fatalf("legacy banner phrase must be absent: %q", reply)
	}
}

func TestHelpSingleLetterAliasesMatchAndLegacyRejected(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	p.Process(s, "H") // the first HELP carries the one-time shortcuts hint
	base := p.Process(s, "H")
	for _, variant := range []string{"h", "?"} {
		got := p.Process(s, variant)
		if got != base {
			t.Fatalf("variant %q should mirror H, got %q want %q", variant, got, base)
		}
	}
	for _, forbidden := range []string{"help", "HeLp", "MESSAGES"} {
		got := p.Process(s, forbidden)
		if !strings.HasPrefix(got, "Invalid command") {
			t.Fatalf("expected long-form %q rejected, got %q", forbidden, got)
		}
	}
}

func TestHelpRoleGating(t *testing.T) {
	p := newProcessor(t)

	guest := session.New("s1", "node1")
	p.Process(guest, "x")
	guestHelp := p.Process(guest, "H")
	if !strings.Contains(guestHelp, "REGISTER") {
		t.Fatalf("guest help should mention REGISTER: %q", guestHelp)
	}
	if strings.Contains(guestHelp, "MOD:") {
		t.Fatalf("guest help must not show moderator commands: %q", guestHelp)
	}

	user := session.New("s2", "node2")
	p.Process(user, "x")
	user.Login("alice", 1)
	userHelp := p.Process(user, "H")
	if !strings.Contains(userHelp, "ACCT:") {
		t.Fatalf("level-1 help should show ACCT section: %q", userHelp)
	}
	if strings.Contains(userHelp, "ADM:") {
		t.Fatalf("level-1 help must not show ADM section: %q", userHelp)
	}

	mod := session.New("s3", "node3")
	p.Process(mod, "x")
	mod.Login("mod", 5)
	modHelp := p.Process(mod, "H")
	if !strings.Contains(modHelp, "MOD:") {
		t.Fatalf("level-5 help should show MOD section: %q", modHelp)
	}
	if strings.Contains(modHelp, "ADM:") {
		t.Fatalf("level-5 help must not show ADM section: %q", modHelp)
	}

	sysop := session.New("s4", "node4")
	p.Process(sysop, "x")
	sysop.Login("root", 10)
	sysopHelp := p.Process(sysop, "H")
	if !strings.Contains(sysopHelp, "ADM:") {
		t.Fatalf("level-10 help should show ADM section: %q", sysopHelp)
	}
}

func TestFirstHelpShortcutHintOnceOnly(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	first := p.Process(s, "H")
	if !strings.Contains(first, "Shortcuts:") {
		t.Fatalf("expected shortcuts hint on first HELP: %q", first)
	}
	second := p.Process(s, "H")
	if strings.Contains(second, "Shortcuts:") {
		t.Fatalf("expected shortcuts hint omitted on subsequent HELP: %q", second)
	}
}

func TestMessageTopicsDigitSelection(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	s.Login("alice", 1)
	p.Process(s, "M")
	if s.State != session.StateMessageTopics {
		t.Fatalf("expected MessageTopics state")
	}
	p.Process(s, "1")
	if s.CurrentTopic != "general" {
		t.Fatalf("expected topic 'general' selected, got %q", s.CurrentTopic)
	}
	if s.State != session.StateReadingMessages {
		t.Fatalf("expected ReadingMessages state after selection")
	}
}

func TestMessageTopicsInvalidNumber(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	s.Login("alice", 1)
	p.Process(s, "M")
	reply := p.Process(s, "9")
	if !strings.Contains(reply, "Invalid topic number") {
		t.Fatalf("expected invalid topic number message, got %q", reply)
	}
}

func TestPostingDraftTwoStep(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	s.Login("alice", 1)
	p.Process(s, "M")
	p.Process(s, "1")
	p.Process(s, "N")
	if s.State != session.StatePostingTitle {
		t.Fatalf("expected PostingTitle state")
	}
	p.Process(s, "My Title")
	if s.State != session.StatePostingBody {
		t.Fatalf("expected PostingBody state")
	}
	reply := p.Process(s, "My Body")
	if !strings.Contains(reply, "Posted") {
		t.Fatalf("expected post confirmation, got %q", reply)
	}
	if s.State != session.StateReadingMessages {
		t.Fatalf("expected return to ReadingMessages after posting")
	}
}

func TestModeratorDeleteRequiresConfirmation(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	s.Login("mod", 5)
	p.Process(s, "M")
	p.Process(s, "1")
	p.Process(s, "N")
	p.Process(s, "title")
	p.Process(s, "body")
	// message id "1" now exists in general
	p.Process(s, "D1")
	if s.State != session.StateConfirmDelete {
		t.Fatalf("expected ConfirmDelete state")
	}
	reply := p.Process(s, "Y")
	if !strings.Contains(reply, "Deleted") {
		t.Fatalf("expected deletion confirmation, got %q", reply)
	}
}

func TestNonModeratorCannotDelete(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	s.Login("alice", 1)
	p.Process(s, "M")
	p.Process(s, "1")
	reply := p.Process(s, "D1")
	if !strings.Contains(reply, "Permission denied") {
		t.Fatalf("expected permission denied, got %q", reply)
	}
}

func TestWelcomeSentOnceThenSuppressedAcrossLogout(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	reply := p.Process(s, "REGISTER testuser pass1234")
	if !strings.Contains(reply, "Welcome to the BBS.") {
		t.Fatalf("expected welcome banner on first registration, got %q", reply)
	}

	p.Process(s, "Q") // logout
	reply = p.Process(s, "LOGIN testuser pass1234")
	if strings.Contains(reply, "Welcome to the BBS.") {
		t.Fatalf("expected welcome banner suppressed on re-login within the same session: %q", reply)
	}
	if !strings.Contains(reply, "Logged in as") {
		t.Fatalf("expected login confirmation, got %q", reply)
	}
}

func TestPasswordCommandUpdatesStoredHash(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	p.Process(s, "REGISTER alice secret1")
	s.UserLevel = 1 // ACCT gate

	reply := p.Process(s, "PASSWORD newpass1")
	if !strings.Contains(reply, "Password updated") {
		t.Fatalf("expected password update confirmation, got %q", reply)
	}
	ok, err := p.Users.Verify("alice", "newpass1")
	if err != nil || !ok {
		t.Fatalf("expected new password to verify, ok=%v err=%v", ok, err)
	}
}

func TestPromoteRequiresLevelTen(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	p.Process(s, "REGISTER alice secret1")
	s.UserLevel = 1

	reply := p.Process(s, "PROMOTE alice 5")
	if !strings.Contains(reply, "Permission denied") {
		t.Fatalf("expected permission denied for sub-10 level, got %q", reply)
	}

	s.UserLevel = 10
	reply = p.Process(s, "PROMOTE alice 5")
	if !strings.Contains(reply, "Promoted alice to level 5") {
		t.Fatalf("expected promotion confirmation, got %q", reply)
	}
	rec, err := p.Users.Get("alice")
	if err != nil || rec.Level != 5 {
		t.Fatalf("expected alice at level 5, got %+v err=%v", rec, err)
	}
}

func TestSyslogGatingAndUsage(t *testing.T) {
	p := newProcessor(t)
	user := session.New("s1", "node1")
	p.Process(user, "x")
	p.Process(user, "REGISTER alice secret1")
	user.UserLevel = 1
	if reply := p.Process(user, "SYSLOG INFO test message"); !strings.Contains(reply, "Permission denied") {
		t.Fatalf("expected non-sysop denied, got %q", reply)
	}

	sysop := session.New("s2", "node2")
	p.Process(sysop, "x")
	p.Process(sysop, "REGISTER root secret1")
	sysop.UserLevel = 10

	if reply := p.Process(sysop, "SYSLOG"); !strings.HasPrefix(reply, "Usage: SYSLOG") {
		t.Fatalf("expected usage for bare SYSLOG, got %q", reply)
	}
	if reply := p.Process(sysop, "SYSLOG INFO"); !strings.HasPrefix(reply, "Usage: SYSLOG") {
		t.Fatalf("expected usage for missing message, got %q", reply)
	}
	if reply := p.Process(sysop, "SYSLOG BAD level"); !strings.HasPrefix(reply, "Usage: SYSLOG") {
		t.Fatalf("expected usage for bad level, got %q", reply)
	}
	reply := p.Process(sysop, "SYSLOG WARN something happened")
	if !strings.Contains(reply, "Logged WARN something happened") {
		t.Fatalf("expected logged confirmation, got %q", reply)
	}
}

func TestEnterGameTransitionsStateAndExitsCleanly(t *testing.T) {
	p := newProcessor(t)
	s := session.New("s1", "node1")
	p.Process(s, "x")
	p.Process(s, "REGISTER alice secret1")

	reply := p.Process(s, "T")
	if s.State != session.StateInGame {
		t.Fatalf("expected StateInGame after T, got %v", s.State)
	}
	if s.CurrentGame == "" {
		t.Fatalf("expected CurrentGame populated while in a game")
	}
	if !strings.Contains(reply, "Entered") {
		t.Fatalf("expected entry message, got %q", reply)
	}

	reply = p.Process(s, "Q")
	if s.State != session.StateMainMenu {
		t.Fatalf("expected back to MainMenu after Q, got %v", s.State)
	}
	if !strings.Contains(reply, "Back to main menu") {
		t.Fatalf("expected exit confirmation, got %q", reply)
	}
}
