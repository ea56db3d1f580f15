package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/memvault/backend/internal/infrastructure/config"
	_ "modernc.org/sqlite"
)

// OpenDB 打开数据库连接
func OpenDB(path string) (*sql.DB, error) {
	if path == "" {
		defaultPath, err := config.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get database path: %w", err)
		}
		path = defaultPath
	}

	// 确保目录存在
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 启用 WAL 模式
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// InitDatabase 初始化消息账本表结构
func InitDatabase(db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		chat_id INTEGER NOT NULL,
		context_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		category TEXT,
		importance INTEGER,
		embedding_id TEXT
	);`

	if _, err := db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}

	// 访问模式只覆盖这四类查询，索引据此建立；
	// embedding_id 的部分唯一索引保证链接唯一性不变量
	createIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_messages_user_chat ON messages(user_id, chat_id);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_category ON messages(category);
	CREATE INDEX IF NOT EXISTS idx_messages_importance ON messages(importance);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_embedding_id
		ON messages(embedding_id) WHERE embedding_id IS NOT NULL AND embedding_id != '';`

	if _, err := db.Exec(createIndexSQL); err != nil {
		return fmt.Errorf("failed to create messages indexes: %w", err)
	}

	return nil
}

// ProvideDB 打开并初始化数据库（供 wire 组合使用）
func ProvideDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := OpenDB(cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := InitDatabase(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
