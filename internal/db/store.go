// Package db persists the account pool in SQLite via gorm.
package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/antigravity-pool/internal/pool"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AccountRecord is the on-disk shape of one account. Email is the
// primary key; the per-model cooldown map is stored as a JSON column.
type AccountRecord struct {
	Email          string `gorm:"primaryKey"`
	ProjectID      string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	Invalid        bool
	InvalidReason  string
	RateLimits     string // JSON: model -> RFC3339 cooldown deadline
	LastSelectedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Open initializes the SQLite database and runs migrations.
func Open(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := gdb.AutoMigrate(&AccountRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return gdb, nil
}

// Store implements pool.Store on a single accounts table. It does no
// locking of its own; the pool manager serializes all calls. Save
// replaces the whole table inside one transaction, so a crash mid-save
// never leaves a partial account set.
type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// Load returns the persisted accounts ordered by creation time, email
// breaking ties.
func (s *Store) Load() ([]pool.Account, error) {
	var records []AccountRecord
	if err := s.db.Order("created_at, email").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	accounts := make([]pool.Account, 0, len(records))
	for _, rec := range records {
		acc, err := rec.toAccount()
		if err != nil {
			return nil, fmt.Errorf("decode account %s: %w", rec.Email, err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// Save atomically replaces the persisted set with the given snapshot.
func (s *Store) Save(accounts []pool.Account) error {
	records := make([]AccountRecord, 0, len(accounts))
	for _, acc := range accounts {
		rec, err := toRecord(acc)
		if err != nil {
			return fmt.Errorf("encode account %s: %w", acc.Email, err)
		}
		records = append(records, rec)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&AccountRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Create(&records).Error
	})
}

func (rec AccountRecord) toAccount() (pool.Account, error) {
	limits := make(map[string]time.Time)
	if rec.RateLimits != "" {
		if err := json.Unmarshal([]byte(rec.RateLimits), &limits); err != nil {
			return pool.Account{}, err
		}
	}
	return pool.Account{
		Email:     rec.Email,
		ProjectID: rec.ProjectID,
		Credential: pool.Credential{
			AccessToken:  rec.AccessToken,
			RefreshToken: rec.RefreshToken,
			ExpiresAt:    rec.ExpiresAt,
		},
		Invalid:        rec.Invalid,
		InvalidReason:  rec.InvalidReason,
		RateLimits:     limits,
		LastSelectedAt: rec.LastSelectedAt,
		CreatedAt:      rec.CreatedAt,
	}, nil
}

func toRecord(acc pool.Account) (AccountRecord, error) {
	limits, err := json.Marshal(acc.RateLimits)
	if err != nil {
		return AccountRecord{}, err
	}
	return AccountRecord{
		Email:          acc.Email,
		ProjectID:      acc.ProjectID,
		AccessToken:    acc.Credential.AccessToken,
		RefreshToken:   acc.Credential.RefreshToken,
		ExpiresAt:      acc.Credential.ExpiresAt,
		Invalid:        acc.Invalid,
		InvalidReason:  acc.InvalidReason,
		RateLimits:     string(limits),
		LastSelectedAt: acc.LastSelectedAt,
		CreatedAt:      acc.CreatedAt,
	}, nil
}
