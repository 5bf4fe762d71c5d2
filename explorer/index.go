package explorer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"proxyvm/core"
)

// Deployment is one recorded instance creation.
type Deployment struct {
	ID             uint   `gorm:"primaryKey"`
	Address        string `gorm:"index;size:42"`
	Implementation string `gorm:"size:42"`
	CodeRef        string `gorm:"size:64"`
	CreatedAt      time.Time
}

// Upgrade is one recorded upgrade attempt, successful or not.
type Upgrade struct {
	ID             uint   `gorm:"primaryKey"`
	Proxy          string `gorm:"index;size:42"`
	Implementation string `gorm:"size:42"`
	CodeRef        string `gorm:"size:64"`
	OK             bool
	Reason         string
	CreatedAt      time.Time
}

// Index persists a queryable history of world lifecycle events for tooling.
// It is an observer: nothing in the call path depends on it.
type Index struct {
	db *gorm.DB
}

// Open connects the index to its database. The DSN selects the driver:
// "sqlite:<path>" (or "sqlite::memory:") for embedded use,
// "postgres:<conn string>" for a shared deployment.
func Open(dsn string) (*Index, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres:"):
		dialector = postgres.Open(strings.TrimPrefix(dsn, "postgres:"))
	default:
		return nil, fmt.Errorf("explorer: unsupported DSN %q", dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("explorer: open database: %w", err)
	}
	if err := db.AutoMigrate(&Deployment{}, &Upgrade{}); err != nil {
		return nil, fmt.Errorf("explorer: migrate schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Record writes one world event into the index. Call events are not indexed;
// only lifecycle changes are.
func (ix *Index) Record(ev core.Event) error {
	switch ev.Type {
	case core.EventDeploy:
		return ix.db.Create(&Deployment{
			Address:        ev.Instance.Hex(),
			Implementation: ev.Implementation.Hex(),
			CodeRef:        ev.CodeRef,
			CreatedAt:      ev.Time,
		}).Error
	case core.EventUpgrade:
		return ix.db.Create(&Upgrade{
			Proxy:          ev.Instance.Hex(),
			Implementation: ev.Implementation.Hex(),
			CodeRef:        ev.CodeRef,
			OK:             ev.OK,
			Reason:         ev.Reason,
			CreatedAt:      ev.Time,
		}).Error
	default:
		return nil
	}
}

// Watch subscribes to the world's event feed and records lifecycle events
// until ctx is cancelled. Intended to run on its own goroutine.
func (ix *Index) Watch(ctx context.Context, w *core.World) {
	events, cancel := w.Subscribe(ctx)
	defer cancel()
	for ev := range events {
		_ = ix.Record(ev)
	}
}

// History returns the upgrade attempts recorded against a proxy, oldest
// first.
func (ix *Index) History(proxy common.Address) ([]Upgrade, error) {
	var out []Upgrade
	err := ix.db.Where("proxy = ?", proxy.Hex()).Order("id asc").Find(&out).Error
	return out, err
}

// Deployments returns every recorded instance creation, oldest first.
func (ix *Index) Deployments() ([]Deployment, error) {
	var out []Deployment
	err := ix.db.Order("id asc").Find(&out).Error
	return out, err
}
