package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"

	"github.com/guildtrack/tracker/internal/common"
	"github.com/guildtrack/tracker/internal/models"
)

// handleStatus reports process health, database totals and the effective
// check-rate settings.
func (s *Server) handleStatus(c *gin.Context) {
	groups, err := s.Store.CountGroups()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	members, err := s.Store.CountMembers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	system := gin.H{
		"uptime_seconds": int64(time.Since(s.StartTime).Seconds()),
	}
	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		system["cpu_percent"] = percentages[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		system["ram_percent"] = vm.UsedPercent
	}

	c.JSON(http.StatusOK, gin.H{
		"system": system,
		"database": gin.H{
			"groups":      groups,
			"members":     members,
			"last_backup": s.Backups.LastBackup(),
		},
		"performance": gin.H{
			"check_limit":    s.Config.Sweep.CheckLimit,
			"sweep_interval": s.Config.Sweep.Interval.String(),
			"request_delay":  s.Config.Sweep.RequestDelay.String(),
		},
	})
}

func (s *Server) handleGetGroup(c *gin.Context) {
	group, err := s.Store.GetGroup(c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, group)
}

type saveGroupRequest struct {
	AdminRoleID   string `json:"admin_role_id"`
	ListChannelID string `json:"list_channel_id" binding:"required"`
	LogChannelID  string `json:"log_channel_id"`
	GuildName     string `json:"guild_name" binding:"required"`
	AutoRemove    bool   `json:"auto_remove"`
}

// handleSaveGroup creates or updates a group's configuration. Changing the
// guild name forces auto-remove off so a typo cannot empty the roster.
func (s *Server) handleSaveGroup(c *gin.Context) {
	var req saveGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	groupID := c.Param("id")
	group := models.Group{
		ID:            groupID,
		AdminRoleID:   req.AdminRoleID,
		ListChannelID: req.ListChannelID,
		LogChannelID:  req.LogChannelID,
		GuildName:     req.GuildName,
		AutoRemove:    req.AutoRemove,
	}

	existing, err := s.Store.GetGroup(groupID)
	created := errors.Is(err, models.ErrGroupNotFound)
	if err != nil && !created {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if existing != nil && !strings.EqualFold(existing.GuildName, req.GuildName) {
		group.AutoRemove = false
	}

	if err := s.Store.SaveGroup(&group); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if created {
		s.Audit.Log(ctx, groupID, "Tracker initialized")
	} else {
		s.Audit.Log(ctx, groupID, "Configuration updated")
	}

	if err := s.Sync.Synchronize(ctx, group); err != nil {
		logrus.WithFields(logrus.Fields{
			"group": groupID,
		}).WithError(err).Errorln("Synchronization after config change failed")
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, group)
}

type autoRemoveRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleAutoRemove(c *gin.Context) {
	var req autoRemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := s.Store.GetGroup(c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	group.AutoRemove = *req.Enabled
	if err := s.Store.SaveGroup(group); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	mode := "OFF"
	if group.AutoRemove {
		mode = "ON"
	}
	s.Audit.Log(c.Request.Context(), group.ID, "Auto-remove set to "+mode)

	c.JSON(http.StatusOK, group)
}

type addMembersRequest struct {
	Names string `json:"names" binding:"required"`
}

type memberResult struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// handleAddMembers verifies each submitted name against the external source
// before inserting it, with the same pacing as the sweep. Non-members are
// reported; with auto-remove on, an existing non-member is dropped.
func (s *Server) handleAddMembers(c *gin.Context) {
	var req addMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := s.Store.GetGroup(c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var names []string
	for _, name := range strings.Split(req.Names, ",") {
		if trimmed := strings.TrimSpace(name); len(trimmed) > 0 {
			names = append(names, trimmed)
		}
	}
	if len(names) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no names supplied"})
		return
	}

	ctx := c.Request.Context()
	results := make([]memberResult, 0, len(names))

	for i, name := range names {
		if i > 0 {
			if err := common.Sleep(ctx, s.Config.Sweep.RequestDelay); err != nil {
				c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
				return
			}
		}

		result, err := s.addOneMember(c, group, name)
		if err != nil {
			results = append(results, memberResult{Name: name, Result: "error"})
			s.Audit.Log(ctx, group.ID, fmt.Sprintf("Error adding %s: %v", name, err))
			continue
		}
		results = append(results, memberResult{Name: name, Result: result})
	}

	if err := s.Sync.Synchronize(ctx, *group); err != nil {
		logrus.WithFields(logrus.Fields{
			"group": group.ID,
		}).WithError(err).Errorln("Synchronization after member add failed")
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) addOneMember(c *gin.Context, group *models.Group, name string) (string, error) {
	ctx := c.Request.Context()

	inGuild, err := s.Source.Verify(ctx, name, group.GuildName)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"group":  group.ID,
			"member": name,
		}).WithError(err).Warnln("Verification failed, treating as non-member")
		inGuild = false
	}

	exists, err := s.Store.MemberExists(group.ID, name)
	if err != nil {
		return "", err
	}

	switch {
	case inGuild && !exists:
		if _, err := s.Store.AddMember(group.ID, name); err != nil {
			return "", err
		}
		s.Audit.Log(ctx, group.ID, "Added "+name)
		return "added", nil
	case inGuild && exists:
		s.Audit.Log(ctx, group.ID, "Duplicate entry "+name)
		return "duplicate", nil
	case group.AutoRemove && exists:
		if err := s.Store.RemoveMember(group.ID, name); err != nil {
			return "", err
		}
		s.Audit.Log(ctx, group.ID, "Auto-removed "+name)
		return "removed", nil
	default:
		s.Audit.Log(ctx, group.ID, "Rejected non-member "+name)
		return "non-member", nil
	}
}

func (s *Server) handleRemoveMember(c *gin.Context) {
	group, err := s.Store.GetGroup(c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	exists, err := s.Store.MemberExists(group.ID, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}

	if err := s.Store.RemoveMember(group.ID, name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	s.Audit.Log(ctx, group.ID, "Removed "+name)

	if err := s.Sync.Synchronize(ctx, *group); err != nil {
		logrus.WithFields(logrus.Fields{
			"group": group.ID,
		}).WithError(err).Errorln("Synchronization after member removal failed")
	}

	c.JSON(http.StatusOK, gin.H{"removed": name})
}

// handleRefresh re-verifies the whole roster, not just the due batch.
func (s *Server) handleRefresh(c *gin.Context) {
	group, err := s.Store.GetGroup(c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	members, err := s.Store.ListMembers(group.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	removed, marked := 0, 0

	for i, member := range members {
		if i > 0 {
			if err := common.Sleep(ctx, s.Config.Sweep.RequestDelay); err != nil {
				c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
				return
			}
		}

		inGuild, err := s.Source.Verify(ctx, member.Name, group.GuildName)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"group":  group.ID,
				"member": member.Name,
			}).WithError(err).Warnln("Verification failed, treating as non-member")
			inGuild = false
		}
		if inGuild {
			continue
		}

		if group.AutoRemove {
			if err := s.Store.RemoveMember(group.ID, member.Name); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			removed++
			s.Audit.Log(ctx, group.ID, "Auto-removed "+member.Name)
		} else {
			marked++
			s.Audit.Log(ctx, group.ID, member.Name+" is no longer a guild member")
		}
	}

	if removed > 0 || marked > 0 {
		if err := s.Sync.Synchronize(ctx, *group); err != nil {
			logrus.WithFields(logrus.Fields{
				"group": group.ID,
			}).WithError(err).Errorln("Synchronization after refresh failed")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"checked": len(members),
		"removed": removed,
		"marked":  marked,
	})
}

func (s *Server) handleCharacterID(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))

	id, err := s.Source.ResolveCharacterID(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, models.ErrIDNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "character id not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"name": name, "id": id})
}
