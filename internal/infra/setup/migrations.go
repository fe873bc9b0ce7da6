package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
)

// MigrateDB 使用传入的 db 迁移全部表结构，返回错误以便调用者知道迁移是否成功。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	// room_key 和 idx_room_time 都限制了长度 (191)，MySQL utf8mb4 下索引不会超长
	err := db.AutoMigrate(
		&domain.Board{},
		&domain.CollaboratorMembership{},
		&domain.ChatMessage{},
	)
	if err != nil {
		logrus.Errorf("Failed to auto-migrate tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
