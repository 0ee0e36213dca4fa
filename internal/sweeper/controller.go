// Package sweeper runs the periodic reconciliation sweep: it selects the
// members longest overdue for verification, checks them against the external
// source under pacing, applies the removal policy, and triggers a display
// synchronization for every group the sweep touched.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/guildtrack/tracker/internal/audit"
	"github.com/guildtrack/tracker/internal/common"
	"github.com/guildtrack/tracker/internal/config"
	"github.com/guildtrack/tracker/internal/models"
)

// Synchronizer is the display reconciliation step triggered after a sweep.
// Satisfied by *display.Synchronizer.
type Synchronizer interface {
	Synchronize(ctx context.Context, group models.Group) error
}

// Controller drives the sweep. All verification calls are sequential by
// construction; the pacing delays are tuned against the profile source's
// request ceiling and parallelism would defeat them.
type Controller struct {
	store  models.RosterStore
	source models.VerificationSource
	sync   Synchronizer
	audit  *audit.Logger

	cfg config.SweepConfig

	// recoveryDelay is the pause after an unexpected per-member failure
	// before the sweep moves on to the next member.
	recoveryDelay time.Duration
}

func NewController(cfg *config.Config, store models.RosterStore, source models.VerificationSource, sync Synchronizer, auditLog *audit.Logger) *Controller {
	return &Controller{
		store:         store,
		source:        source,
		sync:          sync,
		audit:         auditLog,
		cfg:           cfg.Sweep,
		recoveryDelay: cfg.Verify.RetryDelay,
	}
}

// Schedule registers the sweep on the shared scheduler. The job is a
// singleton: a sweep that overruns the interval is never run concurrently
// with the next tick.
func (c *Controller) Schedule(ctx context.Context, scheduler *gocron.Scheduler) error {
	_, err := scheduler.Every(c.cfg.Interval).Do(func() {
		c.RunSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	return nil
}

// RunSweep executes one verification sweep over every group with auto-remove
// enabled. Sweep-level failures are logged and swallowed; the scheduler
// always proceeds to the next tick.
func (c *Controller) RunSweep(ctx context.Context) {
	start := time.Now()
	totalChecked := 0

	groups, err := c.store.ListAutoRemoveGroups()
	if err != nil {
		logrus.WithError(err).Errorln("Sweep aborted, could not list groups")
		return
	}

	processed := make([]models.Group, 0, len(groups))
	for _, group := range groups {
		if ctx.Err() != nil {
			return
		}

		checked, err := c.sweepGroup(ctx, group, &totalChecked)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Persistence or config failure aborts this group for the cycle
			// only; fairness ordering resumes it next sweep.
			logrus.WithFields(logrus.Fields{
				"group": group.ID,
			}).WithError(err).Errorln("Group sweep aborted for this cycle")
			continue
		}

		if checked > 0 {
			processed = append(processed, group)
		}
	}

	// Synchronize every group actually processed this sweep.
	for _, group := range processed {
		if err := c.sync.Synchronize(ctx, group); err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"group": group.ID,
			}).WithError(err).Errorln("Roster display synchronization failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"checked": totalChecked,
		"groups":  len(processed),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Infoln("Sweep complete")
}

// sweepGroup verifies up to CheckLimit members of one group, oldest-checked
// first, and reports how many checks it issued.
func (c *Controller) sweepGroup(ctx context.Context, group models.Group, totalChecked *int) (int, error) {
	members, err := c.store.DueMembers(group.ID, c.cfg.CheckLimit)
	if err != nil {
		return 0, err
	}

	checked := 0
	for _, member := range members {
		if ctx.Err() != nil {
			return checked, ctx.Err()
		}

		// Extra breathing room after every fifth check of the sweep.
		if *totalChecked > 0 && *totalChecked%5 == 0 {
			if err := common.Sleep(ctx, 2*c.cfg.RequestDelay); err != nil {
				return checked, err
			}
		}

		inGuild, verifyErr := c.source.Verify(ctx, member.Name, group.GuildName)
		*totalChecked++
		checked++

		if verifyErr != nil {
			if ctx.Err() != nil {
				return checked, ctx.Err()
			}
			logrus.WithFields(logrus.Fields{
				"group":  group.ID,
				"member": member.Name,
			}).WithError(verifyErr).Warnln("Verification failed, treating as non-member")
			inGuild = false
		}

		if err := c.applyPolicy(ctx, group, member, inGuild); err != nil {
			// A single member's failure never aborts the sweep; pause a
			// recovery delay and continue with the next member.
			logrus.WithFields(logrus.Fields{
				"group":  group.ID,
				"member": member.Name,
			}).WithError(err).Warnln("Member update failed, pausing before next check")
			if err := common.Sleep(ctx, c.recoveryDelay); err != nil {
				return checked, err
			}
			continue
		}

		if err := common.Sleep(ctx, c.cfg.RequestDelay); err != nil {
			return checked, err
		}
	}

	return checked, nil
}

// applyPolicy removes a failed member when the group auto-removes, and
// otherwise advances LastChecked so the member is not re-selected immediately
// next cycle.
func (c *Controller) applyPolicy(ctx context.Context, group models.Group, member models.Member, inGuild bool) error {
	if !inGuild && group.AutoRemove {
		if err := c.store.RemoveMember(group.ID, member.Name); err != nil {
			return err
		}
		c.audit.Log(ctx, group.ID, fmt.Sprintf("Auto-removed %s", member.Name))
		return nil
	}

	return c.store.TouchMember(group.ID, member.Name)
}

// SyncAll synchronizes the roster display of every configured group. Run
// once at startup so restarts converge the displays without waiting for the
// first sweep.
func (c *Controller) SyncAll(ctx context.Context) {
	groups, err := c.store.ListGroups()
	if err != nil {
		logrus.WithError(err).Errorln("Startup synchronization aborted, could not list groups")
		return
	}

	for _, group := range groups {
		if ctx.Err() != nil {
			return
		}
		if err := c.sync.Synchronize(ctx, group); err != nil {
			logrus.WithFields(logrus.Fields{
				"group": group.ID,
			}).WithError(err).Errorln("Startup synchronization failed for group")
		}
	}
}
