// Package store persists groups, members and display-message mappings in a
// local sqlite database. It is pure data access; selection, pacing and
// removal policy live with the sweeper and the display synchronizer.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/guildtrack/tracker/internal/models"
)

// Store implements models.RosterStore on gorm + sqlite.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if err := db.AutoMigrate(
		&models.Group{},
		&models.Member{},
		&models.DisplayMessage{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open gorm handle. Used by tests.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&models.Group{},
		&models.Member{},
		&models.DisplayMessage{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveGroup(group *models.Group) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(group).Error
}

func (s *Store) GetGroup(id string) (*models.Group, error) {
	var group models.Group
	if err := s.db.First(&group, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

func (s *Store) ListGroups() ([]models.Group, error) {
	var groups []models.Group
	if err := s.db.Order("id").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *Store) ListAutoRemoveGroups() ([]models.Group, error) {
	var groups []models.Group
	if err := s.db.Where("auto_remove = ?", true).Order("id").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// AddMember inserts the member with LastChecked = now, ignoring the insert
// when the normalized name is already present. Reports whether a row was
// actually added.
func (s *Store) AddMember(groupID, name string) (bool, error) {
	member := models.NewMember(groupID, name)
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&member)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) RemoveMember(groupID, name string) error {
	return s.db.Where("group_id = ? AND normalized_name = ?",
		groupID, models.NormalizeName(name)).Delete(&models.Member{}).Error
}

func (s *Store) MemberExists(groupID, name string) (bool, error) {
	var count int64
	err := s.db.Model(&models.Member{}).
		Where("group_id = ? AND normalized_name = ?", groupID, models.NormalizeName(name)).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) ListMembers(groupID string) ([]models.Member, error) {
	var members []models.Member
	err := s.db.Where("group_id = ?", groupID).
		Order("name COLLATE NOCASE ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

// DueMembers returns up to limit members ordered oldest-checked first. This
// ordering is the sweep fairness policy: every member is eventually
// re-verified even under a bounded per-cycle budget.
func (s *Store) DueMembers(groupID string, limit int) ([]models.Member, error) {
	var members []models.Member
	err := s.db.Where("group_id = ?", groupID).
		Order("last_checked ASC").
		Limit(limit).
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) TouchMember(groupID, name string) error {
	return s.db.Model(&models.Member{}).
		Where("group_id = ? AND normalized_name = ?", groupID, models.NormalizeName(name)).
		Update("last_checked", time.Now().Unix()).Error
}

func (s *Store) MessageIDs(groupID string) ([]string, error) {
	var rows []models.DisplayMessage
	err := s.db.Where("group_id = ?", groupID).
		Order("page_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.MessageID)
	}
	return ids, nil
}

// ReplaceMessageIDs swaps the group's whole display-message mapping inside a
// single transaction, so a concurrent reader never observes an empty or
// partial list.
func (s *Store) ReplaceMessageIDs(groupID string, messageIDs []string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).
			Delete(&models.DisplayMessage{}).Error; err != nil {
			return err
		}
		for idx, id := range messageIDs {
			row := models.DisplayMessage{
				GroupID:   groupID,
				MessageID: id,
				PageIndex: idx,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CountGroups() (int64, error) {
	var count int64
	err := s.db.Model(&models.Group{}).Count(&count).Error
	return count, err
}

func (s *Store) CountMembers() (int64, error) {
	var count int64
	err := s.db.Model(&models.Member{}).Count(&count).Error
	return count, err
}
