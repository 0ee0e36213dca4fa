package models

import (
	"strings"
	"time"
)

// Group holds the per-community configuration: where the roster is rendered,
// where audit entries go, and which external guild name membership is
// verified against.
type Group struct {
	ID            string `gorm:"primaryKey" json:"id"`
	AdminRoleID   string `json:"admin_role_id"`
	ListChannelID string `json:"list_channel_id"`
	LogChannelID  string `json:"log_channel_id"`
	GuildName     string `json:"guild_name"`
	AutoRemove    bool   `json:"auto_remove"`
}

// Member is one tracked identity belonging to a Group. NormalizedName is the
// case-folded uniqueness key; Name preserves the case the member was added
// with. Status is persisted but reserved for future use.
type Member struct {
	GroupID        string `gorm:"primaryKey" json:"group_id"`
	NormalizedName string `gorm:"primaryKey" json:"-"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	LastChecked    int64  `json:"last_checked"`
}

// DisplayMessage maps one rendered roster page to the platform message that
// carries it. PageIndex orders the mapping; the whole set is replaced on
// every synchronization pass.
type DisplayMessage struct {
	GroupID   string `gorm:"primaryKey"`
	MessageID string `gorm:"primaryKey"`
	PageIndex int
}

// NormalizeName folds a display name to its uniqueness key.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewMember builds a member record for insertion, stamped as checked now.
func NewMember(groupID, name string) Member {
	return Member{
		GroupID:        groupID,
		NormalizedName: NormalizeName(name),
		Name:           strings.TrimSpace(name),
		LastChecked:    time.Now().Unix(),
	}
}
