package npc

import (
	"errors"
	"fmt"
	"testing"
)

func newTestStore() *Store {
	return NewStore(DefaultConfig())
}

func TestAddAssignsStableIDs(t *testing.T) {
	s := newTestStore()
	a := s.Add(NPC{Name: "Mireille"}, 1)
	b := s.Add(NPC{Name: "Corvan"}, 1)
	if a.ID != "npc_1" || b.ID != "npc_2" {
		t.Fatalf("ids = %q, %q", a.ID, b.ID)
	}
	if a.Status != StatusActive {
		t.Fatalf("default status = %q", a.Status)
	}
	if len(a.Keywords) == 0 {
		t.Fatal("keywords not generated on Add")
	}
}

func TestRestoreClearsTransientAndKeepsIDsAhead(t *testing.T) {
	s := newTestStore()
	s.Restore(NPC{ID: "npc_5", Name: "Mireille", Status: StatusActive, NeedsReflection: true})

	n, err := s.Find("npc_5")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if n.NeedsReflection {
		t.Fatal("NeedsReflection survived Restore")
	}
	fresh := s.Add(NPC{Name: "Corvan"}, 3)
	if fresh.ID != "npc_6" {
		t.Fatalf("id after restore = %q, want npc_6", fresh.ID)
	}
}

func TestFindOrder(t *testing.T) {
	s := newTestStore()
	s.Add(NPC{Name: "Hauptmann Krahe", Aliases: []string{"The Captain"}}, 1)
	s.Add(NPC{Name: "Krahe the Younger"}, 1)

	tests := []struct {
		ref  string
		want string
	}{
		{"npc_1", "Hauptmann Krahe"},
		{"hauptmann krahe", "Hauptmann Krahe"},
		{"THE CAPTAIN", "Hauptmann Krahe"},
		{"Krahe the Younger", "Krahe the Younger"},
		// Substring resolves to the longest overlap.
		{"Younger", "Krahe the Younger"},
	}
	for _, tc := range tests {
		n, err := s.Find(tc.ref)
		if err != nil {
			t.Fatalf("Find(%q): %v", tc.ref, err)
		}
		if n.Name != tc.want {
			t.Errorf("Find(%q) = %q, want %q", tc.ref, n.Name, tc.want)
		}
	}
}

func TestFindRejectsShortFragments(t *testing.T) {
	s := newTestStore()
	s.Add(NPC{Name: "Elisa"}, 1)

	if _, err := s.Find("Li"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("short fragment matched: %v", err)
	}
	if _, err := s.Find(""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty ref: %v", err)
	}
}

func TestMergeCandidateIdentityReveal(t *testing.T) {
	s := newTestStore()
	s.Add(NPC{Name: "Hauptmann Krahe"}, 1)
	s.Add(NPC{Name: "Old Brennis"}, 1)

	n, ok := s.MergeCandidate("Krahe")
	if !ok || n.Name != "Hauptmann Krahe" {
		t.Fatalf("MergeCandidate(Krahe) = %v %v", n, ok)
	}
	if _, ok := s.MergeCandidate("Sable"); ok {
		t.Fatal("unrelated name merged")
	}
	if _, ok := s.MergeCandidate("Kr"); ok {
		t.Fatal("too-short name merged")
	}
}

func TestRenameKeepsOldNameAsAlias(t *testing.T) {
	s := newTestStore()
	s.Add(NPC{Name: "Unknown Mercenary"}, 1)

	if err := s.Rename("npc_1", "Hauptmann Krahe"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	n, err := s.Find("Unknown Mercenary")
	if err != nil {
		t.Fatalf("old name no longer resolves: %v", err)
	}
	if n.Name != "Hauptmann Krahe" {
		t.Fatalf("name = %q", n.Name)
	}
}

func TestFindIndexFollowsRename(t *testing.T) {
	s := newTestStore()
	s.Add(NPC{Name: "The Stranger"}, 1)
	if err := s.Rename("The Stranger", "Vael"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if n, err := s.Find("VAEL"); err != nil || n.ID != "npc_1" {
		t.Fatalf("new name lookup = %v, %v", n, err)
	}
	if n, err := s.Find("the stranger"); err != nil || n.ID != "npc_1" {
		t.Fatalf("vacated name lookup = %v, %v", n, err)
	}

	// A newcomer claims the vacated display name outright; the rename
	// only holds it as an alias.
	s.Add(NPC{Name: "The Stranger"}, 2)
	if n, err := s.Find("The Stranger"); err != nil || n.ID != "npc_2" {
		t.Fatalf("reclaimed name lookup = %v, %v", n, err)
	}

	clone := s.Clone()
	if n, err := clone.Find("vael"); err != nil || n.ID != "npc_1" {
		t.Fatalf("clone lookup = %v, %v", n, err)
	}
}

func TestNormalizeDisposition(t *testing.T) {
	tests := []struct {
		raw  string
		want Disposition
	}{
		{"hostile", DispositionHostile},
		{" Murderous ", DispositionHostile},
		{"wary", DispositionDistrustful},
		{"WELCOMING", DispositionFriendly},
		{"devoted", DispositionLoyal},
		{"melancholic", DispositionNeutral},
		{"", DispositionNeutral},
	}
	for _, tc := range tests {
		if got := NormalizeDisposition(tc.raw); got != tc.want {
			t.Errorf("NormalizeDisposition(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestShiftDispositionClamps(t *testing.T) {
	n := &NPC{Disposition: DispositionNeutral}
	n.ShiftDisposition(1)
	if n.Disposition != DispositionFriendly {
		t.Fatalf("after +1: %q", n.Disposition)
	}
	n.ShiftDisposition(5)
	if n.Disposition != DispositionLoyal {
		t.Fatalf("clamp high: %q", n.Disposition)
	}
	n.ShiftDisposition(-10)
	if n.Disposition != DispositionHostile {
		t.Fatalf("clamp low: %q", n.Disposition)
	}
}

func TestAdjustBondClamps(t *testing.T) {
	n := &NPC{}
	n.AdjustBond(10)
	if n.Bond != BondMax {
		t.Fatalf("bond = %d, want %d", n.Bond, BondMax)
	}
	n.AdjustBond(-20)
	if n.Bond != -BondMax {
		t.Fatalf("bond = %d, want %d", n.Bond, -BondMax)
	}
}

func TestScoreImportance(t *testing.T) {
	tests := []struct {
		weight string
		text   string
		want   int
	}{
		{"neutral", "asked for directions", 2},
		{"unknownweight", "small talk", 3},
		{"grateful", "thanked the player", 5},
		{"transformed", "everything changed", 10},
		// Keyword boost raises a low base.
		{"neutral", "the player saved her from the river", 7},
		{"casual", "shared a secret about the keep", 5},
		// Boost never lowers a higher base.
		{"betrayed", "a small gift", 9},
	}
	for _, tc := range tests {
		if got := ScoreImportance(tc.weight, tc.text); got != tc.want {
			t.Errorf("ScoreImportance(%q, %q) = %d, want %d", tc.weight, tc.text, got, tc.want)
		}
	}
}

func TestRecordEventFlagsReflection(t *testing.T) {
	s := newTestStore()
	s.Add(NPC{Name: "Mireille"}, 1)

	// Each event scores 7, so five cross the threshold of 30.
	for i := 0; i < 5; i++ {
		if _, err := s.RecordEvent("npc_1", "player saved her again", "devoted", 2+i, i); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}
	n, _ := s.Find("npc_1")
	if n.ImportanceAccumulator < s.cfg.ReflectionThreshold {
		t.Fatalf("accumulator = %d, want >= %d", n.ImportanceAccumulator, s.cfg.ReflectionThreshold)
	}
	if !n.NeedsReflection {
		t.Fatal("NeedsReflection not set past threshold")
	}
	pending, ok := s.PendingReflection()
	if !ok || pending.ID != "npc_1" {
		t.Fatalf("PendingReflection = %v %v", pending, ok)
	}

	if _, err := s.RecordReflection("npc_1", "she has come to see the player as family", 6, 10); err != nil {
		t.Fatalf("RecordReflection: %v", err)
	}
	if n.NeedsReflection || n.ImportanceAccumulator != 0 || n.LastReflectionScene != 6 {
		t.Fatalf("after reflection: needs=%v acc=%d lastScene=%d",
			n.NeedsReflection, n.ImportanceAccumulator, n.LastReflectionScene)
	}
}

func TestRecordEventReactivatesBackground(t *testing.T) {
	s := newTestStore()
	n := s.Add(NPC{Name: "Corvan"}, 1)
	n.Status = StatusBackground

	if _, err := s.RecordEvent("Corvan", "nodded from across the room", "neutral", 4, 8); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if n.Status != StatusActive {
		t.Fatalf("status = %q, want active", n.Status)
	}
}

func TestConsolidateKeepsHighestImportance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxObservations = 5
	s := NewStore(cfg)
	s.Add(NPC{Name: "Mireille"}, 1)

	// Alternate low- and high-importance events well past the budget.
	for i := 0; i < 12; i++ {
		weight := "neutral"
		if i%2 == 0 {
			weight = "furious"
		}
		if _, err := s.RecordEvent("npc_1", fmt.Sprintf("event %d", i), weight, i, i); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	n, _ := s.Find("npc_1")
	if len(n.Memory) != cfg.MaxObservations {
		t.Fatalf("memory count = %d, want %d", len(n.Memory), cfg.MaxObservations)
	}
	for _, m := range n.Memory {
		if m.Importance < 7 {
			t.Fatalf("low-importance entry %q (%d) survived consolidation", m.Text, m.Importance)
		}
	}
	// Chronological order after consolidation.
	for i := 1; i < len(n.Memory); i++ {
		if n.Memory[i].Scene < n.Memory[i-1].Scene {
			t.Fatal("memory not in chronological order after consolidation")
		}
	}
}

func TestConsolidateTiesBrokenByRecency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxObservations = 2
	s := NewStore(cfg)
	s.Add(NPC{Name: "Corvan"}, 1)

	for i := 1; i <= 4; i++ {
		if _, err := s.RecordEvent("npc_1", fmt.Sprintf("routine chat %d", i), "neutral", i, i); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}
	n, _ := s.Find("npc_1")
	if len(n.Memory) != 2 {
		t.Fatalf("memory count = %d, want 2", len(n.Memory))
	}
	if n.Memory[0].Scene != 3 || n.Memory[1].Scene != 4 {
		t.Fatalf("kept scenes %d,%d, want 3,4", n.Memory[0].Scene, n.Memory[1].Scene)
	}
}

func TestRetrieveBlendsAndGuaranteesReflection(t *testing.T) {
	s := newTestStore()
	s.Add(NPC{Name: "Mireille"}, 1)

	// An old but critical observation, recent filler, and one reflection.
	s.RecordEvent("npc_1", "the player saved her life at the mill", "devoted", 1, 1)
	for i := 0; i < 6; i++ {
		s.RecordEvent("npc_1", fmt.Sprintf("idle talk about the weather %d", i), "neutral", 10+i, 10+i)
	}
	s.RecordReflection("npc_1", "she trusts the player completely now", 12, 20)

	got, err := s.Retrieve("npc_1", "asks about the night you saved her life at the mill", 3, 16)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("retrieved %d, want 3", len(got))
	}
	hasReflection := false
	hasRescue := false
	for _, m := range got {
		if m.Kind == KindReflection {
			hasReflection = true
		}
		if m.Scene == 1 {
			hasRescue = true
		}
	}
	if !hasReflection {
		t.Fatal("no reflection in retrieval despite one existing")
	}
	if !hasRescue {
		t.Fatal("relevant high-importance memory outranked by recent filler")
	}
}

func TestRetrieveEmpty(t *testing.T) {
	s := newTestStore()
	s.Add(NPC{Name: "Corvan"}, 1)
	got, err := s.Retrieve("Corvan", "anything", 5, 3)
	if err != nil || got != nil {
		t.Fatalf("Retrieve on empty memory = %v, %v", got, err)
	}
}

func TestRetireExcessProtectsNewNPCs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActive = 3
	s := NewStore(cfg)

	// Three veterans with old memories and weak bonds.
	for i := 1; i <= 3; i++ {
		n := s.Add(NPC{Name: fmt.Sprintf("Veteran %d", i)}, 1)
		s.RecordEvent(n.ID, "first meeting", "neutral", i, i)
	}
	// A veteran with a strong bond.
	bonded := s.Add(NPC{Name: "Bonded Friend"}, 1)
	bonded.Bond = 4
	s.RecordEvent(bonded.ID, "fought side by side", "loyal", 2, 2)
	// A brand-new NPC introduced this scene, no memories.
	fresh := s.Add(NPC{Name: "Fresh Face"}, 10)

	demoted := s.RetireExcess(10)
	if len(demoted) != 2 {
		t.Fatalf("demoted %d, want 2", len(demoted))
	}
	for _, n := range demoted {
		if n.ID == fresh.ID {
			t.Fatal("newly introduced NPC was demoted")
		}
		if n.ID == bonded.ID {
			t.Fatal("high-bond NPC demoted before low-bond veterans")
		}
		if n.Status != StatusBackground {
			t.Fatalf("demoted NPC has status %q", n.Status)
		}
	}
	if got := len(s.Active()); got != cfg.MaxActive {
		t.Fatalf("active count = %d, want %d", got, cfg.MaxActive)
	}
}

func TestReactivate(t *testing.T) {
	s := newTestStore()
	n := s.Add(NPC{Name: "Corvan"}, 1)
	n.Status = StatusBackground

	if err := s.Reactivate("Corvan"); err != nil {
		t.Fatalf("Reactivate: %v", err)
	}
	if n.Status != StatusActive {
		t.Fatalf("status = %q", n.Status)
	}
}

func TestCloneIsolation(t *testing.T) {
	s := newTestStore()
	s.Add(NPC{Name: "Mireille"}, 1)
	s.RecordEvent("npc_1", "met at the gate", "curious", 1, 1)

	cp := s.Clone()
	cp.RecordEvent("npc_1", "argued about payment", "angry", 2, 2)
	n, _ := cp.Find("npc_1")
	n.Bond = 3

	orig, _ := s.Find("npc_1")
	if len(orig.Memory) != 1 || orig.Bond != 0 {
		t.Fatalf("original mutated through clone: memory=%d bond=%d", len(orig.Memory), orig.Bond)
	}
	fresh := cp.Add(NPC{Name: "Corvan"}, 2)
	if fresh.ID != "npc_2" {
		t.Fatalf("clone id = %q, want npc_2", fresh.ID)
	}
}

func TestGenerateKeywords(t *testing.T) {
	n := &NPC{
		Name:        "Hauptmann Krahe",
		Aliases:     []string{"The Captain"},
		Description: "A grizzled officer of the Border Watch",
		Agenda:      "protect the northern crossing",
	}
	kws := GenerateKeywords(n)
	want := map[string]bool{"hauptmann krahe": false, "krahe": false, "captain": false, "protect": false}
	for _, kw := range kws {
		if _, ok := want[kw]; ok {
			want[kw] = true
		}
	}
	for kw, found := range want {
		if !found {
			t.Errorf("keyword %q missing from %v", kw, kws)
		}
	}
	if len(kws) > 20 {
		t.Fatalf("keyword cap exceeded: %d", len(kws))
	}
}
