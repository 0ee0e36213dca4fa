// Package audit emits durable, human-readable action entries to a group's
// configured log channel. Delivery is best-effort: a failed audit entry is
// logged locally and never fails the operation that produced it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guildtrack/tracker/internal/models"
)

type Logger struct {
	store     models.RosterStore
	messenger models.MessagingClient
}

func NewLogger(store models.RosterStore, messenger models.MessagingClient) *Logger {
	return &Logger{
		store:     store,
		messenger: messenger,
	}
}

// Log posts a timestamped action line to the group's log channel, if one is
// configured.
func (l *Logger) Log(ctx context.Context, groupID, action string) {
	group, err := l.store.GetGroup(groupID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"group": groupID,
		}).WithError(err).Warnln("Audit entry dropped, group config unavailable")
		return
	}

	if len(group.LogChannelID) == 0 {
		return
	}

	entry := fmt.Sprintf("`%s` %s", time.Now().Format("2006-01-02 15:04"), action)

	if err := l.messenger.SendText(ctx, group.LogChannelID, entry); err != nil {
		if errors.Is(err, models.ErrPermissionDenied) {
			logrus.WithFields(logrus.Fields{
				"group":   groupID,
				"channel": group.LogChannelID,
			}).Warnln("Missing permission to post in log channel")
			return
		}
		logrus.WithFields(logrus.Fields{
			"group":   groupID,
			"channel": group.LogChannelID,
		}).WithError(err).Errorln("Failed to deliver audit entry")
	}
}
