// Package display keeps a group's paginated roster rendering in sync with
// the messaging platform. Reconciliation minimizes write churn: existing
// messages are edited in place, missing ones are recreated, surplus ones are
// deleted, and a pass over an unchanged roster issues edits only.
package display

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guildtrack/tracker/internal/common"
	"github.com/guildtrack/tracker/internal/config"
	"github.com/guildtrack/tracker/internal/models"
)

// Synchronizer reconciles rendered pages against previously posted messages.
type Synchronizer struct {
	store     models.RosterStore
	messenger models.MessagingClient
	cfg       config.DisplayConfig
}

func NewSynchronizer(store models.RosterStore, messenger models.MessagingClient, cfg config.DisplayConfig) *Synchronizer {
	return &Synchronizer{
		store:     store,
		messenger: messenger,
		cfg:       cfg,
	}
}

// Synchronize renders the group's current roster and reconciles it against
// the stored message ids, page index by page index. Store failures abort the
// pass; failures on a single page never do. On completion the full new id
// list replaces the stored mapping atomically.
func (s *Synchronizer) Synchronize(ctx context.Context, group models.Group) error {
	members, err := s.store.ListMembers(group.ID)
	if err != nil {
		return err
	}

	prior, err := s.store.MessageIDs(group.ID)
	if err != nil {
		return err
	}

	pages := RenderPages(group.GuildName, members, s.cfg)
	newIDs := make([]string, 0, len(pages))
	operations := 0

	pace := func() error {
		if operations == 0 {
			return ctx.Err()
		}
		return common.Sleep(ctx, s.cfg.PageDelay)
	}

	for idx, page := range pages {
		if err := pace(); err != nil {
			return err
		}
		operations++

		id, err := s.applyPage(ctx, group.ListChannelID, prior, idx, page)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithFields(logrus.Fields{
				"group": group.ID,
				"page":  idx,
			}).WithError(err).Errorln("Failed to update roster page, leaving it stale")

			// The page content is stale but its message (if any) survives,
			// so the mapping stays index-aligned.
			if idx < len(prior) {
				newIDs = append(newIDs, prior[idx])
			}
			continue
		}

		newIDs = append(newIDs, id)
	}

	// Surplus messages are deleted from the end of the old list.
	for i := len(prior) - 1; i >= len(pages); i-- {
		if err := pace(); err != nil {
			return err
		}
		operations++

		if err := s.deleteMessage(ctx, group.ListChannelID, prior[i]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithFields(logrus.Fields{
				"group":   group.ID,
				"message": prior[i],
			}).WithError(err).Errorln("Failed to delete surplus roster message")
		}
	}

	return s.store.ReplaceMessageIDs(group.ID, newIDs)
}

// applyPage edits the page's existing message when one is stored at its
// index, sends a new one otherwise. A vanished message falls back to a fresh
// send; a rate-limit answer waits the platform-specified duration and retries
// this page only, up to PageRetries attempts.
func (s *Synchronizer) applyPage(ctx context.Context, channelID string, prior []string, idx int, page models.PageContent) (string, error) {
	editTarget := ""
	if idx < len(prior) {
		editTarget = prior[idx]
	}

	for attempt := 0; ; attempt++ {
		var err error

		if len(editTarget) > 0 {
			err = s.messenger.Edit(ctx, channelID, editTarget, page)
			if err == nil {
				return editTarget, nil
			}
			if errors.Is(err, models.ErrNotFound) {
				// The prior message was deleted out from under us.
				editTarget = ""
				continue
			}
		} else {
			id, sendErr := s.messenger.Send(ctx, channelID, page)
			if sendErr == nil {
				return id, nil
			}
			err = sendErr
		}

		rl, ok := models.AsRateLimited(err)
		if !ok || attempt >= s.cfg.PageRetries {
			return "", err
		}

		logrus.WithFields(logrus.Fields{
			"page":       idx,
			"retryAfter": rl.RetryAfter,
		}).Warnln("Rate limited updating roster page, waiting before retry")

		if err := common.Sleep(ctx, rl.RetryAfter+time.Second); err != nil {
			return "", err
		}
	}
}

// deleteMessage deletes one surplus message. Already-gone counts as success;
// rate limits get the same bounded wait-and-retry as page updates.
func (s *Synchronizer) deleteMessage(ctx context.Context, channelID, messageID string) error {
	for attempt := 0; ; attempt++ {
		err := s.messenger.Delete(ctx, channelID, messageID)
		if err == nil || errors.Is(err, models.ErrNotFound) {
			return nil
		}

		rl, ok := models.AsRateLimited(err)
		if !ok || attempt >= s.cfg.PageRetries {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"message":    messageID,
			"retryAfter": rl.RetryAfter,
		}).Warnln("Rate limited deleting roster message, waiting before retry")

		if err := common.Sleep(ctx, rl.RetryAfter+time.Second); err != nil {
			return err
		}
	}
}
