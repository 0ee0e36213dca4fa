package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildtrack/tracker/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tracker_test.db"))
	require.NoError(t, err)
	return s
}

func seedMember(t *testing.T, s *Store, groupID, name string, lastChecked int64) {
	t.Helper()
	member := models.NewMember(groupID, name)
	member.LastChecked = lastChecked
	require.NoError(t, s.db.Create(&member).Error)
}

func TestSaveGroup_Upsert(t *testing.T) {
	s := testStore(t)

	group := &models.Group{ID: "g1", GuildName: "Legion", ListChannelID: "C1"}
	require.NoError(t, s.SaveGroup(group))

	group.GuildName = "New Legion"
	group.AutoRemove = true
	require.NoError(t, s.SaveGroup(group))

	got, err := s.GetGroup("g1")
	require.NoError(t, err)
	assert.Equal(t, "New Legion", got.GuildName)
	assert.True(t, got.AutoRemove)

	count, err := s.CountGroups()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestGetGroup_NotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetGroup("missing")
	assert.True(t, errors.Is(err, models.ErrGroupNotFound))
}

func TestAddMember_NormalizedUniqueness(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion"}))

	added, err := s.AddMember("g1", "Artix")
	require.NoError(t, err)
	assert.True(t, added)

	// Same name with different casing collides on the normalized key.
	added, err = s.AddMember("g1", "ARTIX")
	require.NoError(t, err)
	assert.False(t, added)

	count, err := s.CountMembers()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// Original casing survives.
	members, err := s.ListMembers("g1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Artix", members[0].Name)

	// The same name in another group is a distinct member.
	require.NoError(t, s.SaveGroup(&models.Group{ID: "g2", GuildName: "Order"}))
	added, err = s.AddMember("g2", "artix")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestListMembers_CaseInsensitiveOrder(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion"}))

	for _, name := range []string{"zorro", "Alpha", "beta", "GAMMA"} {
		_, err := s.AddMember("g1", name)
		require.NoError(t, err)
	}

	members, err := s.ListMembers("g1")
	require.NoError(t, err)
	require.Len(t, members, 4)

	got := make([]string, 0, len(members))
	for _, member := range members {
		got = append(got, member.Name)
	}
	assert.Equal(t, []string{"Alpha", "beta", "GAMMA", "zorro"}, got)
}

func TestDueMembers_OldestCheckedFirst(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion"}))

	seedMember(t, s, "g1", "Newest", 300)
	seedMember(t, s, "g1", "Oldest", 100)
	seedMember(t, s, "g1", "Middle", 200)

	due, err := s.DueMembers("g1", 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "Oldest", due[0].Name)
	assert.Equal(t, "Middle", due[1].Name)

	// A limit above the due count returns everything, still ordered.
	due, err = s.DueMembers("g1", 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "Newest", due[2].Name)
}

func TestTouchMember_AdvancesLastChecked(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion"}))
	seedMember(t, s, "g1", "Alice", 1)

	require.NoError(t, s.TouchMember("g1", "ALICE"))

	members, err := s.ListMembers("g1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Greater(t, members[0].LastChecked, int64(1))
}

func TestRemoveMember_NormalizedLookup(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion"}))

	_, err := s.AddMember("g1", "Artix")
	require.NoError(t, err)

	require.NoError(t, s.RemoveMember("g1", "aRtIx"))

	exists, err := s.MemberExists("g1", "Artix")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReplaceMessageIDs_AtomicReplace(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion"}))

	require.NoError(t, s.ReplaceMessageIDs("g1", []string{"m0", "m1", "m2"}))

	ids, err := s.MessageIDs("g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m0", "m1", "m2"}, ids)

	// Replacing swaps the whole mapping, including shrinking it.
	require.NoError(t, s.ReplaceMessageIDs("g1", []string{"m3"}))

	ids, err = s.MessageIDs("g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, ids)

	// Another group's mapping is untouched.
	require.NoError(t, s.ReplaceMessageIDs("g2", []string{"x0"}))
	ids, err = s.MessageIDs("g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, ids)
}

func TestListAutoRemoveGroups(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveGroup(&models.Group{ID: "g1", GuildName: "Legion", AutoRemove: true}))
	require.NoError(t, s.SaveGroup(&models.Group{ID: "g2", GuildName: "Order"}))

	groups, err := s.ListAutoRemoveGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g1", groups[0].ID)
}
