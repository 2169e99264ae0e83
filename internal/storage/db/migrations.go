package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Migration struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	CreatedAt int64  `db:"created_at"`
}

const undefinedTableCode = "42P01"

//go:embed scheme
var scheme embed.FS

var commentsRegExp = regexp.MustCompile(`(?s)/\*.*?\*/`)

func (s *dbStorage) executeMigrations(ctx context.Context, db *sqlx.DB) error {
	var rows []Migration
	if err := db.SelectContext(ctx, &rows, "SELECT id, name, created_at FROM migration"); err != nil && !isUndefinedTable(err) {
		return err
	}

	appliedMigrations := make(map[string]struct{})
	for _, row := range rows {
		appliedMigrations[row.Name] = struct{}{}
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %s", err)
	}

	defer func() {
		tx.Rollback()
	}()

	currentlyExecutedMigrations := []string{}

	if err := fs.WalkDir(scheme, "scheme", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		_, fileName := filepath.Split(path)
		if _, ok := appliedMigrations[fileName]; ok {
			return nil
		}

		fileContent, err := fs.ReadFile(scheme, path)
		if err != nil {
			return err
		}

		if _, err = tx.ExecContext(ctx, commentsRegExp.ReplaceAllString(string(fileContent), "")); err != nil {
			return fmt.Errorf("%s: %w", fileName, err)
		}

		currentlyExecutedMigrations = append(currentlyExecutedMigrations, fileName)

		return nil

	}); err != nil {
		return fmt.Errorf("failed to apply migrations: %s", err)
	}

	now := time.Now().UnixNano()
	for _, executedMigration := range currentlyExecutedMigrations {
		if _, err := tx.ExecContext(ctx, db.Rebind("INSERT INTO migration (name, created_at) VALUES(?, ?);"), executedMigration, now); err != nil {
			return fmt.Errorf("failed to insert executed migration: %s", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations transaction: %s", err)
	}

	if len(currentlyExecutedMigrations) > 0 {
		log.Info("Applied migrations", "migrations", currentlyExecutedMigrations)
	}

	return nil
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == undefinedTableCode
}
