package config

import (
	"fmt"
	"log"
	"studyboard-backend/internal/models"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func ConnectDB(dsn string) error {
	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pool settings
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("✅ Database connected successfully")
	return nil
}

func MigrateAllModels(run bool) error {
	if !run {
		log.Println("skipping migration")
		return nil
	}
	err := DB.AutoMigrate(
		// define all models here
		&models.Board{},
		&models.BoardMember{},
		&models.BoardElement{},
		&models.DocSnapshot{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	// ordered snapshot reads sort on the fractional index inside the document
	if err := DB.Exec(`CREATE INDEX IF NOT EXISTS idx_board_elements_order ON board_elements (board_id, (data->>'index'))`).Error; err != nil {
		return fmt.Errorf("failed to create element order index: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
