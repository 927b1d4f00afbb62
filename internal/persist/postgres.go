package persist

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/chatcache/internal/models"
)

// pgMigrations mirror the SQLite migrations in PostgreSQL dialect.
var pgMigrations = []struct {
	version int
	stmts   string
}{
	{1, `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		edited_at BIGINT NOT NULL DEFAULT 0,
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
		created_at BIGINT NOT NULL,
		PRIMARY KEY (user_id, id)
	);
	`},
	{2, `
	CREATE TABLE IF NOT EXISTS pending_ops (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		payload BYTEA NOT NULL,
		retries INT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_ops(created_at);
	`},
}

// PostgresBackend is the structured backend for deployments that already run
// PostgreSQL, selected when DATABASE_URL is set.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects a pool and brings the schema up to date.
func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	b := &PostgresBackend{pool: pool}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return b, nil
}

func (b *PostgresBackend) migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
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

	for _, m := range pgMigrations {
		if m.version <= current {
			continue
		}
		if _, err := b.pool.Exec(ctx, m.stmts); err != nil {
			return fmt.Errorf("version %d: %w", m.version, err)
		}
		if err := b.SetMeta(ctx, metaSchemaVersion, strconv.Itoa(m.version)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// Ping checks the database connection.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// StoreMessages upserts a batch of messages for a room in one transaction.
func (b *PostgresBackend) StoreMessages(ctx context.Context, roomID string, msgs []*models.Message) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, room_id, user_id, content, created_at, edited_at, reply_to, reactions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				edited_at = EXCLUDED.edited_at,
				reactions = EXCLUDED.reactions
		`, m.ID, roomID, m.UserID, m.Content, m.CreatedAt, m.EditedAt, m.ReplyToID, encodeReactions(m.Reactions)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RoomMessages returns a room's messages ordered ascending by creation time.
func (b *PostgresBackend) RoomMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, room_id, user_id, content, created_at, edited_at, reply_to, reactions
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at ASC, id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

// DeleteMessage removes one message by id.
func (b *PostgresBackend) DeleteMessage(ctx context.Context, id string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

// UpdateMessage applies a change-set to one message.
func (b *PostgresBackend) UpdateMessage(ctx context.Context, id string, changes *models.MessageChanges) error {
	if changes == nil {
		return nil
	}
	set := ""
	args := []any{}
	n := 0
	add := func(col string, v any) {
		n++
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf("%s = $%d", col, n)
		args = append(args, v)
	}
	if changes.Content != nil {
		add("content", *changes.Content)
	}
	if changes.EditedAt != nil {
		add("edited_at", *changes.EditedAt)
	}
	if changes.Reactions != nil {
		add("reactions", encodeReactions(changes.Reactions))
	}
	if set == "" {
		return nil
	}
	args = append(args, id)
	tag, err := b.pool.Exec(ctx, fmt.Sprintf(`UPDATE messages SET %s WHERE id = $%d`, set, n+1), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentRooms returns room ids ordered by most recent message.
func (b *PostgresBackend) RecentRooms(ctx context.Context, limit int) ([]string, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT room_id FROM messages
		GROUP BY room_id
		ORDER BY MAX(created_at) DESC
		LIMIT $1
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

// ExpireMessages deletes messages created before olderThan (Unix ms).
func (b *PostgresBackend) ExpireMessages(ctx context.Context, olderThan int64) (int64, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM messages WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// StoreRooms replaces a user's room list as a unit.
func (b *PostgresBackend) StoreRooms(ctx context.Context, userID string, rooms []models.Room) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, r := range rooms {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rooms (user_id, id, name, code, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, userID, r.ID, r.Name, r.Code, r.CreatedBy, r.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Rooms returns a user's stored room list.
func (b *PostgresBackend) Rooms(ctx context.Context, userID string) ([]models.Room, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, name, code, created_by, created_at
		FROM rooms WHERE user_id = $1
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
func (b *PostgresBackend) SetMeta(ctx context.Context, key, value string) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO metadata (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}

// Meta retrieves a metadata value.
func (b *PostgresBackend) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := b.pool.QueryRow(ctx, `SELECT value FROM metadata WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// EnqueueOp appends an operation to the pending queue and returns its id.
func (b *PostgresBackend) EnqueueOp(ctx context.Context, kind models.PendingOpKind, payload []byte) (int64, error) {
	var id int64
	err := b.pool.QueryRow(ctx, `
		INSERT INTO pending_ops (kind, payload, retries, created_at)
		VALUES ($1, $2, 0, $3)
		RETURNING id
	`, string(kind), payload, nowMillis()).Scan(&id)
	return id, err
}

// PendingOps returns queued operations oldest first.
func (b *PostgresBackend) PendingOps(ctx context.Context, limit int) ([]*models.PendingOp, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, kind, payload, retries, created_at
		FROM pending_ops
		ORDER BY created_at ASC, id ASC
		LIMIT $1
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
func (b *PostgresBackend) DeleteOp(ctx context.Context, id int64) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM pending_ops WHERE id = $1`, id)
	return err
}

// SetOpRetries persists a pending operation's retry count.
func (b *PostgresBackend) SetOpRetries(ctx context.Context, id int64, retries int) error {
	_, err := b.pool.Exec(ctx, `UPDATE pending_ops SET retries = $1 WHERE id = $2`, retries, id)
	return err
}

// Reset drops every collection and recreates the schema from scratch.
func (b *PostgresBackend) Reset(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
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
