package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/bulkbuy/internal/audit/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the models. It serves dialects the
// SQL migrations do not target.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Group{},
		&domain.Membership{},
		&domain.OrderLine{},
		&auditdomain.Entry{},
	); err != nil {
		return err
	}
	// mysql has no partial indexes; the service checks cover it there.
	if db.Dialector.Name() == "sqlite" {
		return db.Exec(liveMembershipIndex).Error
	}
	return nil
}

const liveMembershipIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_group_memberships_live
    ON group_memberships (group_id, user_id)
    WHERE status IN ('PENDING', 'APPROVED')`

// Migrate picks the schema strategy for the connected dialect.
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return AutoMigrate(db)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
