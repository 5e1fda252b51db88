package clock

import (
	"errors"
	"testing"
)

func TestAddValidation(t *testing.T) {
	s := NewSet()
	if _, err := s.Add("", KindThreat, 4, ""); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("Add empty name: got %v, want ErrEmptyName", err)
	}
	if _, err := s.Add("Pursuit", KindThreat, 0, ""); !errors.Is(err, ErrInvalidSegments) {
		t.Fatalf("Add zero segments: got %v, want ErrInvalidSegments", err)
	}
	c, err := s.Add("Pursuit", Kind("bogus"), 4, "they catch up")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if c.Kind != KindThreat {
		t.Fatalf("unknown kind normalized to %q, want threat", c.Kind)
	}
	if c.ID != "clock_1" {
		t.Fatalf("first clock id = %q, want clock_1", c.ID)
	}
}

func TestAdvanceFiresExactlyOnce(t *testing.T) {
	s := NewSet()
	c, err := s.Add("Dam Breaks", KindThreat, 4, "the valley floods")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ev, fired, err := s.Advance(c.ID, 3)
	if err != nil || fired {
		t.Fatalf("Advance to 3/4: fired=%v err=%v, want no fire", fired, err)
	}
	_ = ev

	ev, fired, err = s.Advance(c.ID, 2)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !fired {
		t.Fatal("Advance filling final segment did not fire")
	}
	if ev.Trigger != "the valley floods" || ev.ClockID != c.ID {
		t.Fatalf("fire event = %+v", ev)
	}
	if c.Filled != 4 {
		t.Fatalf("fill clamped to %d, want 4", c.Filled)
	}

	// Further advances on a full clock never re-fire.
	_, fired, err = s.Advance(c.ID, 1)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if fired {
		t.Fatal("full clock fired a second time")
	}
}

func TestAdvanceNonPositiveIsNoop(t *testing.T) {
	s := NewSet()
	c, _ := s.Add("Ritual", KindProgress, 6, "")
	if _, fired, err := s.Advance(c.ID, 0); fired || err != nil {
		t.Fatalf("Advance 0: fired=%v err=%v", fired, err)
	}
	if _, fired, err := s.Advance(c.ID, -2); fired || err != nil {
		t.Fatalf("Advance -2: fired=%v err=%v", fired, err)
	}
	if c.Filled != 0 {
		t.Fatalf("fill = %d, want 0", c.Filled)
	}
}

func TestAdvanceUnknownClock(t *testing.T) {
	s := NewSet()
	if _, _, err := s.Advance("clock_99", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Advance unknown: got %v, want ErrNotFound", err)
	}
}

func TestResetReArmsTrigger(t *testing.T) {
	s := NewSet()
	c, _ := s.Add("Hunt", KindThreat, 2, "ambush")

	if _, fired, _ := s.Advance(c.ID, 2); !fired {
		t.Fatal("expected first fill to fire")
	}
	if err := s.Reset(c.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if c.Filled != 0 || c.Fired {
		t.Fatalf("after reset: filled=%d fired=%v", c.Filled, c.Fired)
	}
	if _, fired, _ := s.Advance(c.ID, 2); !fired {
		t.Fatal("reset clock did not fire on second fill")
	}
}

func TestSetFillDoesNotFire(t *testing.T) {
	s := NewSet()
	c, _ := s.Add("Storm", KindThreat, 4, "lightning strikes")

	if err := s.SetFill(c.ID, 4); err != nil {
		t.Fatalf("SetFill: %v", err)
	}
	if c.Fired {
		t.Fatal("SetFill marked the clock fired")
	}
	if err := s.SetFill(c.ID, 1); err != nil {
		t.Fatalf("SetFill: %v", err)
	}
	if c.Filled != 1 || c.Fired {
		t.Fatalf("after SetFill(1): filled=%d fired=%v", c.Filled, c.Fired)
	}
	if err := s.SetFill(c.ID, 10); err != nil {
		t.Fatalf("SetFill: %v", err)
	}
	if c.Filled != 4 {
		t.Fatalf("SetFill clamp: filled=%d, want 4", c.Filled)
	}
}

func TestFirstOpenThreat(t *testing.T) {
	s := NewSet()
	if _, ok := s.FirstOpenThreat(); ok {
		t.Fatal("empty set reported an open threat")
	}

	p, _ := s.Add("Journey", KindProgress, 6, "")
	a, _ := s.Add("Bounty Hunters", KindThreat, 2, "cornered")
	b, _ := s.Add("Plague", KindThreat, 4, "outbreak")
	_ = p

	got, ok := s.FirstOpenThreat()
	if !ok || got.ID != a.ID {
		t.Fatalf("FirstOpenThreat = %v %v, want %s", got, ok, a.ID)
	}

	s.Advance(a.ID, 2)
	got, ok = s.FirstOpenThreat()
	if !ok || got.ID != b.ID {
		t.Fatalf("FirstOpenThreat after fill = %v %v, want %s", got, ok, b.ID)
	}

	s.Advance(b.ID, 4)
	if _, ok := s.FirstOpenThreat(); ok {
		t.Fatal("all threats full but an open threat was reported")
	}
}

func TestRestoreKeepsIDsAhead(t *testing.T) {
	s := NewSet()
	s.Restore(Clock{ID: "clock_7", Name: "Siege", Kind: KindThreat, Filled: 2, Segments: 6})

	c, err := s.Add("Relief Force", KindProgress, 4, "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if c.ID != "clock_8" {
		t.Fatalf("id after restore = %q, want clock_8", c.ID)
	}
	if got, err := s.Get("clock_7"); err != nil || got.Filled != 2 {
		t.Fatalf("restored clock: %v %v", got, err)
	}
}

func TestCloneIsolation(t *testing.T) {
	s := NewSet()
	c, _ := s.Add("Dread", KindThreat, 4, "doom")

	cp := s.Clone()
	if _, fired, err := cp.Advance(c.ID, 4); err != nil || !fired {
		t.Fatalf("clone Advance: fired=%v err=%v", fired, err)
	}
	if c.Filled != 0 || c.Fired {
		t.Fatalf("original mutated by clone: filled=%d fired=%v", c.Filled, c.Fired)
	}

	// Fresh clocks in the clone must not collide with the original's ids.
	nc, _ := cp.Add("Aftermath", KindProgress, 4, "")
	if nc.ID != "clock_2" {
		t.Fatalf("clone id = %q, want clock_2", nc.ID)
	}
}
