package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// MemoryStore keeps action and workflow memories in sqlite and answers
// keyword searches over them.
type MemoryStore struct {
	DB *sql.DB
}

func NewMemoryStore(dbPath string) (*MemoryStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Async memory writes come from many goroutines; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	queries := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT,
			content TEXT NOT NULL,
			source TEXT,
			success INTEGER NOT NULL DEFAULT 0,
			steps TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}

	return &MemoryStore{DB: db}, nil
}

func (m *MemoryStore) Close() error {
	return m.DB.Close()
}

func (m *MemoryStore) StoreAction(ctx context.Context, mem ActionMemory) (string, error) {
	rec := Record{
		Kind:    KindAction,
		Name:    mem.ActionType + "." + mem.ToolName,
		Content: mem.Content,
		Source:  mem.ActionType,
		Success: mem.Success,
		Steps: []Step{{
			ActionType: mem.ActionType,
			ToolName:   mem.ToolName,
			Parameters: mem.Parameters,
		}},
	}
	return m.insert(ctx, rec)
}

func (m *MemoryStore) StoreWorkflowMemory(ctx context.Context, mem WorkflowMemory) (string, error) {
	rec := Record{
		Kind:     KindWorkflow,
		Name:     mem.Name,
		Content:  mem.Content,
		Source:   "agent",
		Success:  mem.Success,
		Steps:    mem.Steps,
		Metadata: mem.Metadata,
	}
	return m.insert(ctx, rec)
}

func (m *MemoryStore) insert(ctx context.Context, rec Record) (string, error) {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return "", fmt.Errorf("encode steps: %w", err)
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	id := uuid.NewString()
	query := `INSERT INTO memories (id, kind, name, content, source, success, steps, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = m.DB.ExecContext(ctx, query,
		id, string(rec.Kind), rec.Name, rec.Content, rec.Source, rec.Success,
		string(steps), string(meta), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return id, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	query := `SELECT id, kind, name, content, source, success, steps, metadata, created_at
		FROM memories WHERE id = ?`
	rec, err := scanRecord(m.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
	}
	return rec, err
}

// Search ranks memories by the share of query terms found in their name or
// content. Ties go to the most recent memory.
func (m *MemoryStore) Search(ctx context.Context, query string, limit int) (SearchResult, error) {
	return m.SearchKind(ctx, query, "", limit)
}

// SearchKind is Search restricted to one kind of memory. An empty kind
// matches every memory.
func (m *MemoryStore) SearchKind(ctx context.Context, query string, kind Kind, limit int) (SearchResult, error) {
	result := SearchResult{Query: query, Results: []Experience{}}
	terms := searchTerms(query)
	if len(terms) == 0 {
		return result, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var where []string
	var args []any
	for _, term := range terms {
		where = append(where, `(LOWER(content) LIKE ? OR LOWER(name) LIKE ?)`)
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern)
	}
	q := `SELECT id, kind, name, content, source, success, steps, metadata, created_at
		FROM memories WHERE (` + strings.Join(where, " OR ") + `)`
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(kind))
	}

	rows, err := m.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return result, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	phrase := strings.ToLower(strings.TrimSpace(query))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return result, err
		}
		haystack := strings.ToLower(rec.Name + " " + rec.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matched++
			}
		}
		score := float64(matched) / float64(len(terms))
		if strings.Contains(haystack, phrase) {
			score += 0.5
		}
		result.Results = append(result.Results, Experience{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return result, err
	}

	sort.SliceStable(result.Results, func(i, j int) bool {
		a, b := result.Results[i], result.Results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	result.TotalCount = len(result.Results)
	if len(result.Results) > limit {
		result.Results = result.Results[:limit]
	}
	return result, nil
}

func searchTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var kind string
	var name, source, steps, meta sql.NullString
	if err := s.Scan(&rec.ID, &kind, &name, &rec.Content, &source, &rec.Success, &steps, &meta, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	rec.Name = name.String
	rec.Source = source.String
	if steps.Valid && steps.String != "" && steps.String != "null" {
		if err := json.Unmarshal([]byte(steps.String), &rec.Steps); err != nil {
			return Record{}, fmt.Errorf("decode steps of %s: %w", rec.ID, err)
		}
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("decode metadata of %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}
