// Package catalog keeps a local history of completed capture runs in
// sqlite, so past outputs stay discoverable after the process exits.
package catalog

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Run is one recorded capture run.
type Run struct {
	ID        uint   `gorm:"primaryKey"`
	Kind      string `gorm:"index"`
	Output    string
	Captured  int
	DurationS float64
	Profile   string `gorm:"index"`
	Proxy     string
	CreatedAt time.Time
}

// Catalog wraps the sqlite store.
type Catalog struct {
	db      *gorm.DB
	profile string
	proxy   string
}

// Open creates or migrates the catalog at dsn.
func Open(dsn, profile, proxy string) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, err
	}
	return &Catalog{db: db, profile: profile, proxy: proxy}, nil
}

// RecordRun persists one capture-run summary.
func (c *Catalog) RecordRun(kind, output string, captured int, durationS float64) error {
	return c.db.Create(&Run{
		Kind:      kind,
		Output:    output,
		Captured:  captured,
		DurationS: durationS,
		Profile:   c.profile,
		Proxy:     c.proxy,
	}).Error
}

// Recent returns the latest runs, newest first.
func (c *Catalog) Recent(limit int) ([]Run, error) {
	if limit < 1 {
		limit = 20
	}
	var runs []Run
	err := c.db.Order("id desc").Limit(limit).Find(&runs).Error
	return runs, err
}
