// Package store implements the durable local cache of previously seen
// posts, backed by a single-file sqlite database.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/paleoquota/paleoquota/types"
)

// Store persists posts in a sqlite database. The schema keeps only the
// logical attributes needed to reconstruct a post; the auto-increment id
// doubles as the insertion-order key for newest-first loading.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and ensures the
// schema exists. Callers are expected to degrade to an empty feed when Open
// fails rather than treat it as fatal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open post cache: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init post cache schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		pubkey TEXT NOT NULL,
		UNIQUE(pubkey, content)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Append persists one post. Duplicate insertion (same author, same text) is
// a no-op; the reconciler performs the semantic dedup, the unique index only
// keeps the cache from accumulating copies.
func (s *Store) Append(p types.Post) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO posts (content, pubkey) VALUES (?, ?)",
		p.Content, p.AuthorPubKey,
	)
	if err != nil {
		return fmt.Errorf("append post: %w", err)
	}
	return nil
}

// Load returns all cached posts, newest first by insertion order.
func (s *Store) Load() ([]types.Post, error) {
	rows, err := s.db.Query("SELECT content, pubkey FROM posts ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	defer rows.Close()

	var posts []types.Post
	for rows.Next() {
		var p types.Post
		if err := rows.Scan(&p.Content, &p.AuthorPubKey); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	return posts, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
