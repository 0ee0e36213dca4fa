package sweeper

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/guildtrack/tracker/internal/audit"
	"github.com/guildtrack/tracker/internal/config"
	"github.com/guildtrack/tracker/internal/models"
	"github.com/guildtrack/tracker/internal/testutil"
)

// recordingSync counts Synchronize calls per group.
type recordingSync struct {
	calls map[string]int
}

func (r *recordingSync) Synchronize(ctx context.Context, group models.Group) error {
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[group.ID]++
	return nil
}

func testController(store *testutil.MemoryStore, source *testutil.FakeSource, sync Synchronizer) *Controller {
	cfg := config.DefaultConfig()
	cfg.Sweep.CheckLimit = 15
	cfg.Sweep.RequestDelay = 0
	cfg.Verify.RetryDelay = 0

	messenger := testutil.NewRecordingMessenger()
	return NewController(cfg, store, source, sync, audit.NewLogger(store, messenger))
}

func TestRunSweep_RemovesFailedMemberWhenAutoRemove(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion", AutoRemove: true, LogChannelID: "L1"})
	store.SeedMember("g1", "Alice", 10)
	store.SeedMember("g1", "Bob", 20)

	source := testutil.NewFakeSource()
	source.Members["alice"] = true // Bob is no longer a member

	sync := &recordingSync{}
	controller := testController(store, source, sync)
	controller.RunSweep(context.Background())

	if exists, _ := store.MemberExists("g1", "Bob"); exists {
		t.Error("Expected Bob to be removed")
	}
	if exists, _ := store.MemberExists("g1", "Alice"); !exists {
		t.Error("Expected Alice to remain")
	}
	if sync.calls["g1"] != 1 {
		t.Errorf("Expected exactly one synchronization for g1, got %d", sync.calls["g1"])
	}
}

func TestRunSweep_VerificationErrorTreatedAsNonMember(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion", AutoRemove: true})
	store.SeedMember("g1", "Alice", 10)

	source := testutil.NewFakeSource()
	source.Errors["alice"] = errors.New("character page returned status 503")

	controller := testController(store, source, &recordingSync{})
	controller.RunSweep(context.Background())

	if exists, _ := store.MemberExists("g1", "Alice"); exists {
		t.Error("Expected verification failure to remove the member under auto-remove")
	}
}

func TestApplyPolicy_FailedCheckWithoutAutoRemoveAdvancesLastChecked(t *testing.T) {
	store := testutil.NewMemoryStore()
	group := models.Group{ID: "g1", GuildName: "Legion", AutoRemove: false}
	store.SaveGroup(&group)
	store.SeedMember("g1", "Alice", 10)

	controller := testController(store, testutil.NewFakeSource(), &recordingSync{})

	if err := controller.applyPolicy(context.Background(), group, models.Member{GroupID: "g1", Name: "Alice"}, false); err != nil {
		t.Fatalf("applyPolicy failed: %v", err)
	}

	if exists, _ := store.MemberExists("g1", "Alice"); !exists {
		t.Fatal("Expected Alice to remain without auto-remove")
	}

	members, _ := store.ListMembers("g1")
	if members[0].LastChecked == 10 {
		t.Error("Expected LastChecked to advance after a failed check without auto-remove")
	}
}

func TestRunSweep_SynchronizesEveryProcessedGroup(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion", AutoRemove: true})
	store.SaveGroup(&models.Group{ID: "g2", GuildName: "Order", AutoRemove: true})
	store.SaveGroup(&models.Group{ID: "g3", GuildName: "Idle", AutoRemove: true})
	store.SeedMember("g1", "Alice", 10)
	store.SeedMember("g2", "Bob", 20)
	// g3 has no members and must not be synchronized.

	source := testutil.NewFakeSource()
	source.Members["alice"] = true
	source.Members["bob"] = true

	sync := &recordingSync{}
	controller := testController(store, source, sync)
	controller.RunSweep(context.Background())

	if sync.calls["g1"] != 1 || sync.calls["g2"] != 1 {
		t.Errorf("Expected one synchronization each for g1 and g2, got %v", sync.calls)
	}
	if sync.calls["g3"] != 0 {
		t.Errorf("Expected no synchronization for empty g3, got %d", sync.calls["g3"])
	}
}

func TestRunSweep_SingleMemberFailureDoesNotAbortSweep(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion", AutoRemove: true})
	store.SeedMember("g1", "Alice", 10)
	store.SeedMember("g1", "Bob", 20)
	store.FailTouch["alice"] = true

	source := testutil.NewFakeSource()
	source.Members["alice"] = true
	source.Members["bob"] = true

	controller := testController(store, source, &recordingSync{})
	controller.RunSweep(context.Background())

	// Bob must still have been checked after Alice's store failure.
	joined := strings.Join(source.Calls, ",")
	if !strings.Contains(joined, "bob") {
		t.Errorf("Expected sweep to continue past the failing member, calls: %v", source.Calls)
	}
}

func TestSweepGroup_FairnessSelection(t *testing.T) {
	store := testutil.NewMemoryStore()
	group := models.Group{ID: "g1", GuildName: "Legion", AutoRemove: true}
	store.SaveGroup(&group)

	// Seed more members than the batch budget, newest-checked first so the
	// selection has to reorder.
	store.SeedMember("g1", "Newest", 100)
	store.SeedMember("g1", "Oldest", 1)
	store.SeedMember("g1", "Middle", 50)

	source := testutil.NewFakeSource()
	source.Members["newest"] = true
	source.Members["oldest"] = true
	source.Members["middle"] = true

	controller := testController(store, source, &recordingSync{})
	controller.cfg.CheckLimit = 2

	total := 0
	checked, err := controller.sweepGroup(context.Background(), group, &total)
	if err != nil {
		t.Fatalf("sweepGroup failed: %v", err)
	}

	if checked != 2 {
		t.Fatalf("Expected min(batch, due) = 2 checks, got %d", checked)
	}
	if source.Calls[0] != "oldest" || source.Calls[1] != "middle" {
		t.Errorf("Expected oldest-checked-first order, got %v", source.Calls)
	}
}
