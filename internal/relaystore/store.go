package relaystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no CGo
)

// Store is the relay's SQLite-backed persistence layer. A single
// process owns one Store; WAL mode allows concurrent readers alongside
// the writer goroutine pool (spec §3's cross-device state).
type Store struct {
	db *sql.DB
}

// Open creates or migrates the database at path. Use ":memory:" for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT 'free',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			token_hash TEXT NOT NULL,
			paired_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_seen_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_user ON agents(user_id)`,
		`CREATE TABLE IF NOT EXISTS pane_layouts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			pane_type TEXT NOT NULL,
			x REAL NOT NULL DEFAULT 0,
			y REAL NOT NULL DEFAULT 0,
			w REAL NOT NULL DEFAULT 0,
			h REAL NOT NULL DEFAULT 0,
			z_index INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_layouts_user ON pane_layouts(user_id)`,
		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			user_id TEXT PRIMARY KEY,
			values_json TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS view_states (
			user_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			values_json TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (user_id, device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// UpsertUser creates or updates a user row.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, tier, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email=excluded.email, tier=excluded.tier
	`, u.ID, u.Email, u.Tier, u.CreatedAt.UTC())
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var created time.Time
	err := s.db.QueryRowContext(ctx, `SELECT id, email, tier, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Tier, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = created
	return &u, nil
}

// CreateAgent persists a newly paired agent with its hashed long-lived
// token (spec §4.6: the plaintext token is never stored).
func (s *Store) CreateAgent(ctx context.Context, a *Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, name, token_hash, paired_at) VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.Name, a.TokenHash, a.PairedAt.UTC())
	return err
}

// AgentByTokenHash looks up the agent owning a hashed token, used on
// every agent reconnect to authenticate without storing the plaintext.
func (s *Store) AgentByTokenHash(ctx context.Context, hash string) (*Agent, error) {
	var a Agent
	var paired time.Time
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, token_hash, paired_at, last_seen_at FROM agents WHERE token_hash = ?`, hash).
		Scan(&a.ID, &a.UserID, &a.Name, &a.TokenHash, &paired, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent token not recognized")
	}
	if err != nil {
		return nil, err
	}
	a.PairedAt = paired
	if lastSeen.Valid {
		a.LastSeenAt = &lastSeen.Time
	}
	return &a, nil
}

func (s *Store) TouchAgent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET last_seen_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// ListAgents returns every agent a user has paired.
func (s *Store) ListAgents(ctx context.Context, userID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, token_hash, paired_at, last_seen_at FROM agents WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		var a Agent
		var paired time.Time
		var lastSeen sql.NullTime
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.TokenHash, &paired, &lastSeen); err != nil {
			return nil, err
		}
		a.PairedAt = paired
		if lastSeen.Valid {
			a.LastSeenAt = &lastSeen.Time
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CountAgents is used by tier gating on agent pairing (spec §7's
// AgentLimits).
func (s *Store) CountAgents(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// CountPanesByType is used by tier gating on pane creation (spec §7).
func (s *Store) CountPanesByType(ctx context.Context, userID, paneType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pane_layouts WHERE user_id = ? AND pane_type = ?`, userID, paneType).Scan(&n)
	return n, err
}

// PutPaneLayout inserts or replaces a single pane's layout row (patch
// path: drag/resize).
func (s *Store) PutPaneLayout(ctx context.Context, p *PaneLayout) error {
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pane_layouts (id, user_id, agent_id, pane_type, x, y, w, h, z_index, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id=excluded.agent_id, pane_type=excluded.pane_type, x=excluded.x, y=excluded.y,
			w=excluded.w, h=excluded.h, z_index=excluded.z_index, metadata=excluded.metadata
	`, p.ID, p.UserID, p.AgentID, p.PaneType, p.X, p.Y, p.W, p.H, p.ZIndex, string(metaJSON))
	return err
}

// ReplaceLayout atomically swaps a user's entire pane-layout set (the
// full-layout PUT path).
func (s *Store) ReplaceLayout(ctx context.Context, userID string, layout []*PaneLayout) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pane_layouts WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for _, p := range layout {
		metaJSON, err := json.Marshal(p.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pane_layouts (id, user_id, agent_id, pane_type, x, y, w, h, z_index, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, userID, p.AgentID, p.PaneType, p.X, p.Y, p.W, p.H, p.ZIndex, string(metaJSON)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListPaneLayouts(ctx context.Context, userID string) ([]*PaneLayout, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, agent_id, pane_type, x, y, w, h, z_index, metadata FROM pane_layouts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PaneLayout
	for rows.Next() {
		var p PaneLayout
		var metaJSON string
		if err := rows.Scan(&p.ID, &p.UserID, &p.AgentID, &p.PaneType, &p.X, &p.Y, &p.W, &p.H, &p.ZIndex, &metaJSON); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(metaJSON), &p.Metadata)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePaneLayout(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pane_layouts WHERE id = ?`, id)
	return err
}

// PutNote inserts or updates a note.
func (s *Store) PutNote(ctx context.Context, n *Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, title, content, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title=excluded.title, content=excluded.content, updated_at=excluded.updated_at
	`, n.ID, n.UserID, n.Title, n.Content, n.UpdatedAt.UTC())
	return err
}

func (s *Store) ListNotes(ctx context.Context, userID string) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, title, content, updated_at FROM notes WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var n Note
		var updated time.Time
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &updated); err != nil {
			return nil, err
		}
		n.UpdatedAt = updated
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	return err
}

// PutPreferences full-replaces a user's opaque settings blob.
func (s *Store) PutPreferences(ctx context.Context, p *Preferences) error {
	data, err := json.Marshal(p.Values)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, values_json) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET values_json=excluded.values_json
	`, p.UserID, string(data))
	return err
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT values_json FROM preferences WHERE user_id = ?`, userID).Scan(&data)
	if err == sql.ErrNoRows {
		return &Preferences{UserID: userID, Values: map[string]any{}}, nil
	}
	if err != nil {
		return nil, err
	}
	p := &Preferences{UserID: userID, Values: map[string]any{}}
	json.Unmarshal([]byte(data), &p.Values)
	return p, nil
}

// PutViewState full-replaces one device's view-state blob.
func (s *Store) PutViewState(ctx context.Context, v *ViewState) error {
	data, err := json.Marshal(v.Values)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO view_states (user_id, device_id, values_json) VALUES (?, ?, ?)
		ON CONFLICT(user_id, device_id) DO UPDATE SET values_json=excluded.values_json
	`, v.UserID, v.DeviceID, string(data))
	return err
}

func (s *Store) GetViewState(ctx context.Context, userID, deviceID string) (*ViewState, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT values_json FROM view_states WHERE user_id = ? AND device_id = ?`, userID, deviceID).Scan(&data)
	if err == sql.ErrNoRows {
		return &ViewState{UserID: userID, DeviceID: deviceID, Values: map[string]any{}}, nil
	}
	if err != nil {
		return nil, err
	}
	v := &ViewState{UserID: userID, DeviceID: deviceID, Values: map[string]any{}}
	json.Unmarshal([]byte(data), &v.Values)
	return v, nil
}

// RecordEvent appends an audit row (spec §7: tier.limit_hit and friends).
func (s *Store) RecordEvent(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (user_id, kind, detail, created_at) VALUES (?, ?, ?, ?)`,
		e.UserID, e.Kind, e.Detail, time.Now().UTC())
	return err
}

// CountEventsByKind returns how many events of kind have been recorded
// for userID, used by operators auditing tier-limit pressure and by
// tests asserting a denial was logged exactly once.
func (s *Store) CountEventsByKind(ctx context.Context, userID, kind string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE user_id = ? AND kind = ?`, userID, kind).Scan(&n)
	return n, err
}
