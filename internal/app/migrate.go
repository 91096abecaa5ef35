package app

import (
	"gorm.io/gorm"

	"github.com/monbeats/monbeats-sync/internal/model"
)

// AutoMigrate 自动迁移数据表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.UserScore{},
		&model.SyncQueueEntry{},
	)
}
