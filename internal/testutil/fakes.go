// Package testutil holds in-memory fakes of the roster store, the
// verification source and the messaging client, shared by the package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/guildtrack/tracker/internal/models"
)

// MemoryStore is a full in-memory models.RosterStore.
type MemoryStore struct {
	mu       sync.Mutex
	groups   map[string]models.Group
	members  map[string][]models.Member // group id -> members
	messages map[string][]string        // group id -> ordered message ids

	// FailTouch makes TouchMember fail for the named member, to exercise
	// per-member failure recovery.
	FailTouch map[string]bool

	// Replaced counts ReplaceMessageIDs calls per group.
	Replaced map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:    make(map[string]models.Group),
		members:   make(map[string][]models.Member),
		messages:  make(map[string][]string),
		FailTouch: make(map[string]bool),
		Replaced:  make(map[string]int),
	}
}

func (s *MemoryStore) SaveGroup(group *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group.ID] = *group
	return nil
}

func (s *MemoryStore) GetGroup(id string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[id]
	if !ok {
		return nil, models.ErrGroupNotFound
	}
	return &group, nil
}

func (s *MemoryStore) ListGroups() ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Group, 0, len(s.groups))
	for _, group := range s.groups {
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListAutoRemoveGroups() ([]models.Group, error) {
	groups, _ := s.ListGroups()
	out := groups[:0]
	for _, group := range groups {
		if group.AutoRemove {
			out = append(out, group)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddMember(groupID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := models.NormalizeName(name)
	for _, member := range s.members[groupID] {
		if member.NormalizedName == normalized {
			return false, nil
		}
	}
	s.members[groupID] = append(s.members[groupID], models.NewMember(groupID, name))
	return true, nil
}

// SeedMember inserts a member with an explicit LastChecked timestamp.
func (s *MemoryStore) SeedMember(groupID, name string, lastChecked int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member := models.NewMember(groupID, name)
	member.LastChecked = lastChecked
	s.members[groupID] = append(s.members[groupID], member)
}

func (s *MemoryStore) RemoveMember(groupID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := models.NormalizeName(name)
	kept := s.members[groupID][:0]
	for _, member := range s.members[groupID] {
		if member.NormalizedName != normalized {
			kept = append(kept, member)
		}
	}
	s.members[groupID] = kept
	return nil
}

func (s *MemoryStore) MemberExists(groupID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := models.NormalizeName(name)
	for _, member := range s.members[groupID] {
		if member.NormalizedName == normalized {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListMembers(groupID string) ([]models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.Member(nil), s.members[groupID]...)
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (s *MemoryStore) DueMembers(groupID string, limit int) ([]models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.Member(nil), s.members[groupID]...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastChecked < out[j].LastChecked
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TouchMember(groupID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := models.NormalizeName(name)
	if s.FailTouch[normalized] {
		return fmt.Errorf("injected touch failure for %s", name)
	}
	for i, member := range s.members[groupID] {
		if member.NormalizedName == normalized {
			s.members[groupID][i].LastChecked = time.Now().Unix()
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) MessageIDs(groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages[groupID]...), nil
}

func (s *MemoryStore) ReplaceMessageIDs(groupID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[groupID] = append([]string(nil), messageIDs...)
	s.Replaced[groupID]++
	return nil
}

func (s *MemoryStore) CountGroups() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.groups)), nil
}

func (s *MemoryStore) CountMembers() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, members := range s.members {
		total += len(members)
	}
	return int64(total), nil
}

// FakeSource is a scripted models.VerificationSource. Names listed in
// Members (normalized) verify as in-guild; names in Errors fail.
type FakeSource struct {
	Members map[string]bool
	Errors  map[string]error
	IDs     map[string]int64

	Calls []string
}

func NewFakeSource() *FakeSource {
	return &FakeSource{
		Members: make(map[string]bool),
		Errors:  make(map[string]error),
		IDs:     make(map[string]int64),
	}
}

func (f *FakeSource) Verify(ctx context.Context, name, guildName string) (bool, error) {
	normalized := models.NormalizeName(name)
	f.Calls = append(f.Calls, normalized)
	if err, ok := f.Errors[normalized]; ok {
		return false, err
	}
	return f.Members[normalized], nil
}

func (f *FakeSource) ResolveCharacterID(ctx context.Context, name string) (int64, error) {
	id, ok := f.IDs[models.NormalizeName(name)]
	if !ok {
		return 0, models.ErrIDNotFound
	}
	return id, nil
}

// Op is one recorded messaging operation.
type Op struct {
	Kind      string // "send", "edit", "delete", "text"
	ChannelID string
	MessageID string
	Content   models.PageContent
	Text      string
}

// RecordingMessenger records operations and can be scripted to fail.
type RecordingMessenger struct {
	Ops    []Op
	nextID int

	// EditErrs / SendErrs / DeleteErrs are consumed once per message id (for
	// edits/deletes) or per send ordinal, then cleared.
	EditErrs   map[string]error
	DeleteErrs map[string]error
	SendErrs   []error
}

func NewRecordingMessenger() *RecordingMessenger {
	return &RecordingMessenger{
		EditErrs:   make(map[string]error),
		DeleteErrs: make(map[string]error),
	}
}

func (m *RecordingMessenger) Send(ctx context.Context, channelID string, content models.PageContent) (string, error) {
	if len(m.SendErrs) > 0 {
		err := m.SendErrs[0]
		m.SendErrs = m.SendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	m.nextID++
	id := fmt.Sprintf("msg-%d", m.nextID)
	m.Ops = append(m.Ops, Op{Kind: "send", ChannelID: channelID, MessageID: id, Content: content})
	return id, nil
}

func (m *RecordingMessenger) Edit(ctx context.Context, channelID, messageID string, content models.PageContent) error {
	if err, ok := m.EditErrs[messageID]; ok {
		delete(m.EditErrs, messageID)
		return err
	}
	m.Ops = append(m.Ops, Op{Kind: "edit", ChannelID: channelID, MessageID: messageID, Content: content})
	return nil
}

func (m *RecordingMessenger) Delete(ctx context.Context, channelID, messageID string) error {
	if err, ok := m.DeleteErrs[messageID]; ok {
		delete(m.DeleteErrs, messageID)
		return err
	}
	m.Ops = append(m.Ops, Op{Kind: "delete", ChannelID: channelID, MessageID: messageID})
	return nil
}

func (m *RecordingMessenger) SendText(ctx context.Context, channelID, text string) error {
	m.Ops = append(m.Ops, Op{Kind: "text", ChannelID: channelID, Text: text})
	return nil
}

// Count returns how many recorded operations have the given kind.
func (m *RecordingMessenger) Count(kind string) int {
	total := 0
	for _, op := range m.Ops {
		if op.Kind == kind {
			total++
		}
	}
	return total
}
