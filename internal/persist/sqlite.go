package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/chatcache/internal/models"
)

// migrations are applied in order from the stored schema version forward.
// Never rewrite an entry; append a new version instead.
var migrations = []struct {
	version int
	stmts   string
}{
	{1, `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		edited_at INTEGER NOT NULL DEFAULT 0,
		reply_to TEXT NOT NULL DEFAULT '',
		reactions TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

	CREATE TABLE IF NOT EXISTS rooms (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, id)
	);
	`},
	{2, `
	CREATE TABLE IF NOT EXISTS pending_ops (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		payload BLOB NOT NULL,
		retries INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_ops(created_at);
	`},
}

const metaSchemaVersion = "schema_version"

// SQLiteBackend is the default structured backend: a local SQLite database
// in WAL mode.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at dbPath and brings its
// schema up to date. If dbPath is empty, defaults to "./data/chatcache.db".
func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		dbPath = "./data/chatcache.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(ctx); err != nil {
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return b, nil
}

// migrate creates the metadata table, then applies migrations newer than the
// stored schema version. Existing rows survive version bumps.
func (b *SQLiteBackend) migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`)
	if err != nil {
		return err
	}

	current := 0
	if v, err := b.Meta(ctx, metaSchemaVersion); err == nil {
		current, _ = strconv.Atoi(v)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := b.db.ExecContext(ctx, m.stmts); err != nil {
			return fmt.Errorf("version %d: %w", m.version, err)
		}
		if err := b.SetMeta(ctx, metaSchemaVersion, strconv.Itoa(m.version)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Ping checks the database connection.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// StoreMessages upserts a batch of messages for a room in one transaction.
func (b *SQLiteBackend) StoreMessages(ctx context.Context, roomID string, msgs []*models.Message) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO messages (id, room_id, user_id, content, created_at, edited_at, reply_to, reactions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, m.ID, roomID, m.UserID, m.Content,
			m.CreatedAt, m.EditedAt, m.ReplyToID, encodeReactions(m.Reactions)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RoomMessages returns a room's messages ordered ascending by creation time.
func (b *SQLiteBackend) RoomMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, content, created_at, edited_at, reply_to, reactions
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC, id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// DeleteMessage removes one message by id.
func (b *SQLiteBackend) DeleteMessage(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

// UpdateMessage applies a change-set to one message.
func (b *SQLiteBackend) UpdateMessage(ctx context.Context, id string, changes *models.MessageChanges) error {
	if changes == nil {
		return nil
	}
	set := ""
	args := []any{}
	if changes.Content != nil {
		set += "content = ?"
		args = append(args, *changes.Content)
	}
	if changes.EditedAt != nil {
		if set != "" {
			set += ", "
		}
		set += "edited_at = ?"
		args = append(args, *changes.EditedAt)
	}
	if changes.Reactions != nil {
		if set != "" {
			set += ", "
		}
		set += "reactions = ?"
		args = append(args, encodeReactions(changes.Reactions))
	}
	if set == "" {
		return nil
	}
	args = append(args, id)
	res, err := b.db.ExecContext(ctx, `UPDATE messages SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentRooms returns room ids ordered by most recent message.
func (b *SQLiteBackend) RecentRooms(ctx context.Context, limit int) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT room_id FROM messages
		GROUP BY room_id
		ORDER BY MAX(created_at) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpireMessages deletes messages created before olderThan (Unix ms) and
// returns how many went.
func (b *SQLiteBackend) ExpireMessages(ctx context.Context, olderThan int64) (int64, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StoreRooms replaces a user's room list as a unit.
func (b *SQLiteBackend) StoreRooms(ctx context.Context, userID string, rooms []models.Room) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for _, r := range rooms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rooms (user_id, id, name, code, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, userID, r.ID, r.Name, r.Code, r.CreatedBy, r.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Rooms returns a user's stored room list.
func (b *SQLiteBackend) Rooms(ctx context.Context, userID string) ([]models.Room, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, name, code, created_by, created_at
		FROM rooms WHERE user_id = ?
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Code, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// SetMeta stores a metadata value.
func (b *SQLiteBackend) SetMeta(ctx context.Context, key, value string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// Meta retrieves a metadata value.
func (b *SQLiteBackend) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// EnqueueOp appends an operation to the pending queue and returns its id.
func (b *SQLiteBackend) EnqueueOp(ctx context.Context, kind models.PendingOpKind, payload []byte) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO pending_ops (kind, payload, retries, created_at)
		VALUES (?, ?, 0, ?)
	`, string(kind), payload, nowMillis())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PendingOps returns queued operations oldest first.
func (b *SQLiteBackend) PendingOps(ctx context.Context, limit int) ([]*models.PendingOp, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, kind, payload, retries, created_at
		FROM pending_ops
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.PendingOp
	for rows.Next() {
		op := &models.PendingOp{}
		var kind string
		if err := rows.Scan(&op.ID, &kind, &op.Payload, &op.Retries, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Kind = models.PendingOpKind(kind)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// DeleteOp removes a pending operation.
func (b *SQLiteBackend) DeleteOp(ctx context.Context, id int64) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM pending_ops WHERE id = ?`, id)
	return err
}

// SetOpRetries persists a pending operation's retry count.
func (b *SQLiteBackend) SetOpRetries(ctx context.Context, id int64, retries int) error {
	_, err := b.db.ExecContext(ctx, `UPDATE pending_ops SET retries = ? WHERE id = ?`, retries, id)
	return err
}

// Reset drops every collection and recreates the schema from scratch.
func (b *SQLiteBackend) Reset(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		DROP TABLE IF EXISTS messages;
		DROP TABLE IF EXISTS rooms;
		DROP TABLE IF EXISTS metadata;
		DROP TABLE IF EXISTS pending_ops;
	`)
	if err != nil {
		return err
	}
	return b.migrate(ctx)
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var msgs []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var reactions string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content,
			&m.CreatedAt, &m.EditedAt, &m.ReplyToID, &reactions); err != nil {
			return nil, err
		}
		m.Reactions = decodeReactions(reactions)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func encodeReactions(r map[string]int) string {
	if len(r) == 0 {
		return ""
	}
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeReactions(s string) map[string]int {
	if s == "" {
		return nil
	}
	var r map[string]int
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil
	}
	return r
}
