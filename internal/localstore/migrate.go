package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

type migration struct {
	version int
	name    string
	upSQL   string
}

// loadMigrations 读取 0001_xxx.sql 形式的迁移文件，按版本号排序。
func loadMigrations(migrationFS fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var result []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version prefix", name)
		}
		content, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		result = append(result, migration{
			version: version,
			name:    name,
			upSQL:   extractUpMigration(string(content)),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].version < result[j].version })
	for i := 1; i < len(result); i++ {
		if result[i].version == result[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %d", result[i].version)
		}
	}
	return result, nil
}

// upgrade 从 oldVersion 升级到 target：只执行版本号大于 oldVersion 的迁移，
// 每个版本单独事务提交并同步 PRAGMA user_version。
func upgrade(ctx context.Context, db *sql.DB, migrationFS fs.FS, target int) (oldVersion int, err error) {
	oldVersion, err = userVersion(ctx, db)
	if err != nil {
		return 0, err
	}
	if oldVersion > target {
		return oldVersion, fmt.Errorf("database schema v%d is newer than supported v%d", oldVersion, target)
	}

	migrations, err := loadMigrations(migrationFS)
	if err != nil {
		return oldVersion, err
	}

	for _, m := range migrations {
		if m.version <= oldVersion || m.version > target {
			continue
		}
		if strings.TrimSpace(m.upSQL) == "" {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return oldVersion, fmt.Errorf("begin migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.upSQL); err != nil {
			_ = tx.Rollback()
			return oldVersion, fmt.Errorf("exec migration %s: %w", m.name, err)
		}
		// PRAGMA 不支持占位符，版本号来自已校验的整数。
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			_ = tx.Rollback()
			return oldVersion, fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return oldVersion, fmt.Errorf("commit migration %s: %w", m.name, err)
		}
	}
	return oldVersion, nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// extractUpMigration returns the SQL in the -- +migrate Up section.
func extractUpMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}
