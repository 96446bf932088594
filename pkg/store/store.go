// Package store persists users and admins in SQLite.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tinyland-inc/govorun/pkg/logger"
)

// Gender values follow the platform's users.get convention.
const (
	GenderUnknown = 0
	GenderFemale  = 1
	GenderMale    = 2
)

type User struct {
	ID           uint  `gorm:"primarykey"`
	ExternalID   int64 `gorm:"uniqueIndex;not null"`
	FirstName    string
	LastName     string
	Gender       int
	RegisteredAt time.Time
	Blocked      bool
}

func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

func (u User) IsFemale() bool { return u.Gender == GenderFemale }
func (u User) IsMale() bool   { return u.Gender == GenderMale }

type Admin struct {
	ID         uint  `gorm:"primarykey"`
	ExternalID int64 `gorm:"uniqueIndex;not null"`
	CreatedAt  time.Time
}

// Filters is an AND of optional equality conditions for ListUsers.
type Filters struct {
	Gender  *int
	Blocked *bool
}

type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path, migrates
// the schema and registers the first admin when one is configured and
// not yet present.
func Open(path string, firstAdminID int64) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	if err := db.AutoMigrate(&User{}, &Admin{}); err != nil {
		return nil, fmt.Errorf("migrating store: %w", err)
	}

	s := &Store{db: db}

	if firstAdminID != 0 {
		isAdmin, err := s.IsAdmin(firstAdminID)
		if err != nil {
			return nil, err
		}
		if !isAdmin {
			if err := s.AddAdmin(firstAdminID); err != nil {
				return nil, err
			}
			logger.InfoCF("store", "First admin registered", map[string]any{"external_id": firstAdminID})
		}
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetByExternalID returns the user or nil when unknown.
func (s *Store) GetByExternalID(externalID int64) (*User, error) {
	var user User
	err := s.db.Where("external_id = ?", externalID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) Add(externalID int64, firstName, lastName string, gender int) (*User, error) {
	user := User{
		ExternalID:   externalID,
		FirstName:    firstName,
		LastName:     lastName,
		Gender:       gender,
		RegisteredAt: time.Now(),
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("adding user %d: %w", externalID, err)
	}
	return &user, nil
}

// Block marks the user blocked. Returns false when the user is unknown.
func (s *Store) Block(externalID int64) (bool, error) {
	return s.setBlocked(externalID, true)
}

// Unblock clears the blocked flag. Returns false when the user is unknown.
func (s *Store) Unblock(externalID int64) (bool, error) {
	return s.setBlocked(externalID, false)
}

func (s *Store) setBlocked(externalID int64, blocked bool) (bool, error) {
	result := s.db.Model(&User{}).Where("external_id = ?", externalID).Update("blocked", blocked)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) IsBlocked(externalID int64) (bool, error) {
	user, err := s.GetByExternalID(externalID)
	if err != nil {
		return false, err
	}
	return user != nil && user.Blocked, nil
}

func (s *Store) IsAdmin(externalID int64) (bool, error) {
	var count int64
	if err := s.db.Model(&Admin{}).Where("external_id = ?", externalID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) AddAdmin(externalID int64) error {
	admin := Admin{ExternalID: externalID, CreatedAt: time.Now()}
	if err := s.db.Create(&admin).Error; err != nil {
		return fmt.Errorf("adding admin %d: %w", externalID, err)
	}
	return nil
}

func (s *Store) ListUsers(f Filters) ([]User, error) {
	query := s.db.Model(&User{})
	if f.Gender != nil {
		query = query.Where("gender = ?", *f.Gender)
	}
	if f.Blocked != nil {
		query = query.Where("blocked = ?", *f.Blocked)
	}

	var users []User
	if err := query.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) ListAdmins() ([]Admin, error) {
	var admins []Admin
	if err := s.db.Order("id").Find(&admins).Error; err != nil {
		return nil, err
	}
	return admins, nil
}
