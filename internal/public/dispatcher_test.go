package public

import (
	"testing"
	"time"
)

func TestCooldownBlocksRepeatWithinWindow(t *testing.T) {
	c := NewCooldowns(map[Kind]time.Duration{KindEightBall: time.Minute})
	base := time.Now()
	if !c.Allow("node-1", KindEightBall, base) {
		t.Fatalf("expected first invocation allowed")
	}
	if c.Allow("node-1", KindEightBall, base.Add(time.Second)) {
		t.Fatalf("expected second invocation within cooldown blocked")
	}
}

func TestCooldownAllowsAfterWindowElapses(t *testing.T) {
	c := NewCooldowns(map[Kind]time.Duration{KindFortune: time.Minute})
	base := time.Now()
	c.Allow("node-1", KindFortune, base)
	if !c.Allow("node-1", KindFortune, base.Add(2*time.Minute)) {
		t.Fatalf("expected invocation allowed after cooldown elapses")
	}
}

func TestCooldownIsPerNode(t *testing.T) {
	c := NewCooldowns(map[Kind]time.Duration{KindSlot: time.Minute})
	base := time.Now()
	c.Allow("node-1", KindSlot, base)
	if !c.Allow("node-2", KindSlot, base) {
		t.Fatalf("expected cooldown to be scoped per node")
	}
}

func TestCooldownIsPerCommand(t *testing.T) {
	c := NewCooldowns(map[Kind]time.Duration{KindSlot: time.Minute, KindFortune: time.Minute})
	base := time.Now()
	c.Allow("node-1", KindSlot, base)
	if !c.Allow("node-1", KindFortune, base) {
		t.Fatalf("expected cooldown to be scoped per command")
	}
}

func TestCommandWithoutCooldownAlwaysAllowed(t *testing.T) {
	c := NewCooldowns(map[Kind]time.Duration{})
	base := time.Now()
	if !c.Allow("node-1", KindHelp, base) || !c.Allow("node-1", KindHelp, base) {
		t.Fatalf("expected HELP without configured cooldown always allowed")
	}
}
