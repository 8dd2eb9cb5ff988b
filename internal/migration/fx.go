package migration

import (
	"github.com/smallbiznis/bygglogg/internal/config"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module applies the embedded SQL on postgres. Other dialects get the schema
// from the gorm models.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if cfg.DBType != "postgres" {
			if err := AutoMigrate(conn); err != nil {
				return err
			}
			log.Info("migration.automigrated", zap.String("db_type", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("migration.applied")
		return nil
	}),
)

// AutoMigrate creates the invoice basis and source tables from the models.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&domain.Project{},
		&domain.Membership{},
		&domain.Phase{},
		&domain.TimeEntry{},
		&domain.ChangeOrder{},
		&domain.Material{},
		&domain.Expense{},
		&domain.MileageEntry{},
		&domain.DiaryEntry{},
		&domain.InvoiceBasisSnapshot{},
	)
}
