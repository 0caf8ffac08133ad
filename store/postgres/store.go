// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/playermail/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

const mailColumns = `id, sender_id, sender_name, receiver_id, receiver_name, subject, body,
	attachment, commands, sent_at, is_read, claimed, commands_executed,
	deleted_by_sender, deleted_by_receiver`

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "table", s.opts.table)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			sender_id VARCHAR(64) NOT NULL DEFAULT '',
			sender_name VARCHAR(64) NOT NULL DEFAULT '',
			receiver_id VARCHAR(64) NOT NULL,
			receiver_name VARCHAR(64) NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			attachment TEXT NOT NULL DEFAULT '',
			commands TEXT[] NOT NULL DEFAULT '{}',
			sent_at TIMESTAMPTZ NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			claimed BOOLEAN NOT NULL DEFAULT FALSE,
			commands_executed BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_by_sender BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_by_receiver BOOLEAN NOT NULL DEFAULT FALSE
		)
	`, s.opts.table)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_inbox ON %s(receiver_id, deleted_by_receiver, sent_at DESC)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sent ON %s(sender_id, deleted_by_sender, sent_at DESC)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_converged ON %s(id) WHERE deleted_by_sender AND deleted_by_receiver`, s.opts.table, s.opts.table),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// row is the database shape of a store.Mail.
type row struct {
	ID                string         `db:"id"`
	SenderID          string         `db:"sender_id"`
	SenderName        string         `db:"sender_name"`
	ReceiverID        string         `db:"receiver_id"`
	ReceiverName      string         `db:"receiver_name"`
	Subject           string         `db:"subject"`
	Body              string         `db:"body"`
	Attachment        string         `db:"attachment"`
	Commands          pq.StringArray `db:"commands"`
	SentAt            time.Time      `db:"sent_at"`
	Read              bool           `db:"is_read"`
	Claimed           bool           `db:"claimed"`
	CommandsExecuted  bool           `db:"commands_executed"`
	DeletedBySender   bool           `db:"deleted_by_sender"`
	DeletedByReceiver bool           `db:"deleted_by_receiver"`
}

func toRow(m *store.Mail) row {
	cmds := pq.StringArray(m.Commands)
	if cmds == nil {
		cmds = pq.StringArray{}
	}
	return row{
		ID:                m.ID,
		SenderID:          m.SenderID,
		SenderName:        m.SenderName,
		ReceiverID:        m.ReceiverID,
		ReceiverName:      m.ReceiverName,
		Subject:           m.Subject,
		Body:              m.Body,
		Attachment:        m.Attachment,
		Commands:          cmds,
		SentAt:            m.SentAt.UTC(),
		Read:              m.Read,
		Claimed:           m.Claimed,
		CommandsExecuted:  m.CommandsExecuted,
		DeletedBySender:   m.DeletedBySender,
		DeletedByReceiver: m.DeletedByReceiver,
	}
}

func (r row) toMail() *store.Mail {
	var cmds []string
	if len(r.Commands) > 0 {
		cmds = []string(r.Commands)
	}
	return &store.Mail{
		ID:                r.ID,
		SenderID:          r.SenderID,
		SenderName:        r.SenderName,
		ReceiverID:        r.ReceiverID,
		ReceiverName:      r.ReceiverName,
		Subject:           r.Subject,
		Body:              r.Body,
		Attachment:        r.Attachment,
		Commands:          cmds,
		SentAt:            r.SentAt.UTC(),
		Read:              r.Read,
		Claimed:           r.Claimed,
		CommandsExecuted:  r.CommandsExecuted,
		DeletedBySender:   r.DeletedBySender,
		DeletedByReceiver: r.DeletedByReceiver,
	}
}

// Insert persists a new record.
func (s *Store) Insert(ctx context.Context, m *store.Mail) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (:id, :sender_id, :sender_name, :receiver_id, :receiver_name, :subject, :body,
		        :attachment, :commands, :sent_at, :is_read, :claimed, :commands_executed,
		        :deleted_by_sender, :deleted_by_receiver)
	`, s.opts.table, mailColumns)

	if _, err := s.db.NamedExecContext(ctx, query, toRow(m)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("insert mail: %w", err)
	}
	return nil
}

// Update writes the record's mutable fields.
// The attachment is immutable once stored and is never rewritten.
func (s *Store) Update(ctx context.Context, m *store.Mail) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if m.ID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET
			is_read = :is_read,
			claimed = :claimed,
			commands_executed = :commands_executed,
			deleted_by_sender = :deleted_by_sender,
			deleted_by_receiver = :deleted_by_receiver
		WHERE id = :id
	`, s.opts.table)

	res, err := s.db.NamedExecContext(ctx, query, toRow(m))
	if err != nil {
		return fmt.Errorf("update mail: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mail: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.opts.table), id)
	if err != nil {
		return fmt.Errorf("delete mail: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete mail: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Get returns the record with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Mail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var r row
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, mailColumns, s.opts.table)
	if err := s.db.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get mail: %w", err)
	}
	return r.toMail(), nil
}

// Find returns matching records in the requested order.
func (s *Store) Find(ctx context.Context, filters []store.Filter, opts store.ListOptions) ([]*store.Mail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where, args := buildWhereClause(filters)
	sortOrder := "DESC"
	if opts.SortOrder == store.SortAsc {
		sortOrder = "ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY %s %s, id ASC`,
		mailColumns, s.opts.table, where, opts.SortBy, sortOrder)
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, opts.Offset)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query mail: %w", err)
	}
	out := make([]*store.Mail, len(rows))
	for i, r := range rows {
		out[i] = r.toMail()
	}
	return out, nil
}

// Count returns the number of matching records.
func (s *Store) Count(ctx context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where, args := buildWhereClause(filters)
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.table, where)
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func buildWhereClause(filters []store.Filter) (string, []any) {
	var conditions []string
	var args []any
	for _, f := range filters {
		op, ok := sqlOperators[f.Operator()]
		if !ok {
			continue
		}
		key, ok := store.MailFieldKey(f.Key())
		if !ok {
			continue
		}
		args = append(args, f.Value())
		conditions = append(conditions, fmt.Sprintf("%s %s $%d", key, op, len(args)))
	}
	if len(conditions) == 0 {
		return "1=1", nil
	}
	return strings.Join(conditions, " AND "), args
}

var sqlOperators = map[string]string{
	"eq":  "=",
	"":    "=",
	"ne":  "!=",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}
