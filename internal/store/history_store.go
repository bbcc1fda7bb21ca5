package store

import (
	"database/sql"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"parley/internal/domain"
)

// HistorySQLite keeps the decrypted message log in a SQLite database.
type HistorySQLite struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the message database at path.
func OpenHistory(path string) (*HistorySQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "history: open database")
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	h := &HistorySQLite{db: db}
	if err := h.createTable(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "history: create table")
	}
	return h, nil
}

func (h *HistorySQLite) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		peer TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		text TEXT NOT NULL,
		outgoing INTEGER NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		delivered INTEGER NOT NULL DEFAULT 0,
		read INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer, seq);
	`
	_, err := h.db.Exec(query)
	return err
}

// AppendMessage stores msg at the end of its conversation. A message whose
// ID is already stored is ignored, so a redelivered envelope is not logged
// twice.
func (h *HistorySQLite) AppendMessage(msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	query := `
	INSERT OR IGNORE INTO messages (id, peer, sender, recipient, text, outgoing, timestamp_ms, delivered, read)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := h.db.Exec(query,
		msg.ID,
		msg.Peer.String(),
		msg.From.String(),
		msg.To.String(),
		msg.Text,
		msg.Outgoing,
		msg.Timestamp,
		msg.Delivered,
		msg.Read,
	)
	if err != nil {
		return errors.Wrap(err, "history: save message")
	}
	return nil
}

// ListMessages returns the latest limit messages with peer, oldest first.
// A non-positive limit returns the whole conversation.
func (h *HistorySQLite) ListMessages(peer domain.Username, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
	SELECT id, peer, sender, recipient, text, outgoing, timestamp_ms, delivered, read FROM (
		SELECT * FROM messages WHERE peer = ? ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC
	`
	rows, err := h.db.Query(query, peer.String(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "history: list messages")
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m           domain.Message
			p, from, to string
		)
		if err := rows.Scan(&m.ID, &p, &from, &to, &m.Text, &m.Outgoing, &m.Timestamp, &m.Delivered, &m.Read); err != nil {
			return nil, errors.Wrap(err, "history: scan row")
		}
		m.Peer, m.From, m.To = domain.Username(p), domain.Username(from), domain.Username(to)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkDelivered flags a stored message as accepted by the relay.
func (h *HistorySQLite) MarkDelivered(id string) error {
	_, err := h.db.Exec(`UPDATE messages SET delivered = 1 WHERE id = ?`, id)
	return errors.Wrap(err, "history: mark delivered")
}

// DeleteConversation removes every message exchanged with peer.
func (h *HistorySQLite) DeleteConversation(peer domain.Username) error {
	_, err := h.db.Exec(`DELETE FROM messages WHERE peer = ?`, peer.String())
	return errors.Wrap(err, "history: delete conversation")
}

// Close closes the database.
func (h *HistorySQLite) Close() error { return h.db.Close() }

var _ domain.HistoryStore = (*HistorySQLite)(nil)
