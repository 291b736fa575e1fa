package database

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

type migrationLogger struct {
	ectologger.Logger
}

func (l migrationLogger) Verbose() bool { return true }

func (l migrationLogger) Printf(format string, v ...any) {
	l.Debugf(format, v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
	// AutoRollback forces a dirty database back to the previous version after a failed migration.
	AutoRollback bool
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

func (ms *MigrationService) folder() string {
	if filepath.IsAbs(ms.config.MigrationFolderPath) {
		return ms.config.MigrationFolderPath
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, ms.config.MigrationFolderPath)
}

// Migrate applies the migrations in the configured folder to the database.
func (ms *MigrationService) Migrate(db DB, databaseName string) error {
	sqlDB, ok := SQLDB(db)
	if !ok {
		return errors.New("migrations require a *DatabaseInstance")
	}

	folder := ms.folder()
	if _, err := os.Stat(folder); err != nil {
		return errors.Wrapf(err, "migration folder %s does not exist", folder)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = migrationLogger{Logger: ms.logger}

	return ms.run(m)
}

func (ms *MigrationService) run(m *migrate.Migrate) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	previous, _, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Warn("Failed to read current migration version")
	}

	start := time.Now()
	var err error
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}
	ms.logger.Infof("Database migrations finished in %v", time.Since(start))

	switch {
	case err == nil:
		ms.logger.Info("Successfully applied migrations")
		return nil
	case err == migrate.ErrNoChange:
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	ms.logger.WithError(err).Errorf("Migration failed with error: %v", err)

	version, dirty, verr := m.Version()
	if verr != nil || !dirty || !ms.config.AutoRollback {
		return err
	}

	target := int(previous)
	if target == 0 && version > 0 {
		target = int(version) - 1
	}
	ms.logger.Warnf("Database is dirty at version %d. Reverting to version %d", version, target)
	if ferr := m.Force(target); ferr != nil {
		ms.logger.WithError(ferr).Errorf("Failed to force database to version %d", target)
		return ferr
	}

	// still fail so the process does not start on a half-applied schema
	return err
}
