package models

import "context"

// RosterStore is the persistence contract. It carries no policy: ordering,
// batching and removal decisions all live with the callers.
type RosterStore interface {
	// Group configuration. SaveGroup upserts on the group id; groups are
	// never deleted.
	SaveGroup(group *Group) error
	GetGroup(id string) (*Group, error)
	ListGroups() ([]Group, error)
	ListAutoRemoveGroups() ([]Group, error)

	// Members, scoped by group. AddMember reports false when the normalized
	// name already exists. ListMembers orders case-insensitively by name;
	// DueMembers orders by LastChecked ascending (oldest-checked first).
	AddMember(groupID, name string) (bool, error)
	RemoveMember(groupID, name string) error
	MemberExists(groupID, name string) (bool, error)
	ListMembers(groupID string) ([]Member, error)
	DueMembers(groupID string, limit int) ([]Member, error)
	TouchMember(groupID, name string) error

	// Display-message mapping. ReplaceMessageIDs swaps the whole mapping in
	// one transaction so readers never observe a partial list.
	MessageIDs(groupID string) ([]string, error)
	ReplaceMessageIDs(groupID string, messageIDs []string) error

	// Totals for the status endpoint.
	CountGroups() (int64, error)
	CountMembers() (int64, error)
}

// VerificationSource answers membership questions against the external
// profile source. Verify errors are classified by callers as "not a member";
// they are never retried beyond the client's own bounded retry policy.
type VerificationSource interface {
	Verify(ctx context.Context, name, guildName string) (bool, error)
	ResolveCharacterID(ctx context.Context, name string) (int64, error)
}

// PageColumn is one named column of indexed roster lines.
type PageColumn struct {
	Name  string
	Lines []string
}

// PageContent is the structured payload for one rendered roster page.
type PageContent struct {
	Title   string
	Color   int
	Footer  string
	Columns []PageColumn
}

// MessagingClient is the consumed messaging-platform interface. Message ids
// are opaque; failures map onto ErrNotFound, ErrPermissionDenied,
// RateLimitedError or a generic error.
type MessagingClient interface {
	Send(ctx context.Context, channelID string, content PageContent) (string, error)
	Edit(ctx context.Context, channelID, messageID string, content PageContent) error
	Delete(ctx context.Context, channelID, messageID string) error

	// SendText posts a short plain-text line, used for audit entries.
	SendText(ctx context.Context, channelID, text string) error
}
