package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	xerrors "PluginHub/internal/errors"
	"PluginHub/internal/registry"
	"PluginHub/pkg/logger"
)

const (
	selectPluginsSQL = `SELECT id, name, is_stateless, declared_imports, updated_at FROM posthog_plugin`
	selectConfigsSQL = "SELECT id, plugin_id, team_id, enabled, `order`, config, updated_at FROM posthog_pluginconfig WHERE enabled = 1"
)

// SnapshotSource 在同一个只读事务中读取两张插件表，保证周期内不会出现
// 配置引用的插件记录缺失的情况。
type SnapshotSource struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSnapshotSource 打开连接池，并按配置执行迁移。
func NewSnapshotSource(ctx context.Context, cfg Config) (*SnapshotSource, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		if err := runMigrations(ctx, db); err != nil {
			db.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "run mysql migrations")
		}
	}
	return newSnapshotSource(db), nil
}

func newSnapshotSource(db *sql.DB) *SnapshotSource {
	return &SnapshotSource{db: db, log: logger.Named("mysql")}
}

// LoadSnapshot implements reconcile.SnapshotSource.
func (s *SnapshotSource) LoadSnapshot(ctx context.Context) (*registry.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, storageError(err, "begin snapshot transaction")
	}

	plugins, err := queryPlugins(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	configs, err := queryConfigurations(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError(err, "commit snapshot transaction")
	}

	snap, orphans := registry.NewSnapshot(plugins, configs)
	if len(orphans) > 0 {
		s.log.Warn("dropping configurations of unknown plugins", "plugin_config_ids", orphans)
	}
	return snap, nil
}

// Close 释放连接池。
func (s *SnapshotSource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func queryPlugins(ctx context.Context, tx *sql.Tx) ([]*registry.Plugin, error) {
	rows, err := tx.QueryContext(ctx, selectPluginsSQL)
	if err != nil {
		return nil, storageError(err, "query plugins")
	}
	defer rows.Close()

	var plugins []*registry.Plugin
	for rows.Next() {
		var (
			p       registry.Plugin
			imports sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.IsStateless, &imports, &p.UpdatedAt); err != nil {
			return nil, storageError(err, "scan plugin")
		}
		if imports.Valid && imports.String != "" {
			if err := json.Unmarshal([]byte(imports.String), &p.DeclaredImports); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode declared_imports",
					xerrors.WithMetadata("plugin_id", strconv.FormatInt(p.ID, 10)),
					xerrors.WithRetryable(false))
			}
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		plugins = append(plugins, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "iterate plugins")
	}
	return plugins, nil
}

func queryConfigurations(ctx context.Context, tx *sql.Tx) ([]*registry.Configuration, error) {
	rows, err := tx.QueryContext(ctx, selectConfigsSQL)
	if err != nil {
		return nil, storageError(err, "query plugin configs")
	}
	defer rows.Close()

	var configs []*registry.Configuration
	for rows.Next() {
		var (
			c        registry.Configuration
			settings sql.NullString
			updated  time.Time
		)
		if err := rows.Scan(&c.ID, &c.PluginID, &c.TeamID, &c.Enabled, &c.Order, &settings, &updated); err != nil {
			return nil, storageError(err, "scan plugin config")
		}
		if settings.Valid && settings.String != "" {
			if err := json.Unmarshal([]byte(settings.String), &c.Settings); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode plugin config",
					xerrors.WithMetadata("plugin_config_id", strconv.FormatInt(c.ID, 10)),
					xerrors.WithRetryable(false))
			}
		}
		c.UpdatedAt = updated.UTC()
		configs = append(configs, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "iterate plugin configs")
	}
	return configs, nil
}

func storageError(err error, msg string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, msg)
}

// Ping 检查数据库是否可达。
func (s *SnapshotSource) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageError(err, "ping mysql")
	}
	return nil
}
