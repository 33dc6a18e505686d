package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jmoiron/sqlx"
	"gitlab.com/dirk.krummacker/message-relay/internal/model"
	"gitlab.com/dirk.krummacker/message-relay/internal/phonenumber"
)

// errDuplicateEntry is the MySQL error number for unique key violations.
const errDuplicateEntry = 1062

// DefaultCacheTTL is how long the default sender is served from memory.
const DefaultCacheTTL = 5 * time.Minute

// Config holds the connection parameters of the MySQL database.
type Config struct {
	Host     string
	User     string
	Password string
	Name     string
}

// Open returns a handle to the MySQL database described by cfg.
func Open(cfg Config) (*sql.DB, error) {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = cfg.Host
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Name
	mc.ParseTime = true
	return sql.Open("mysql", mc.FormatDSN())
}

// MySQL is a directory backed by the contacts and chat_presence tables. The
// default sender is looked up on every routed message, so it is cached.
type MySQL struct {
	db     *sqlx.DB
	cache  *ttlcache.Cache[string, model.Contact]
	logger *slog.Logger

	insert          *sqlx.NamedStmt
	update          *sqlx.NamedStmt
	selectAll       *sqlx.Stmt
	selectWhereId   *sqlx.Stmt
	selectWhereName *sqlx.Stmt
	selectWhereNum  *sqlx.Stmt
	selectWhereKey  *sqlx.Stmt
	deleteWhereId   *sqlx.Stmt
	selectPresence  *sqlx.Stmt
	upsertPresence  *sqlx.Stmt
}

// MySQLOption configures a MySQL directory.
type MySQLOption func(*MySQL)

// WithCacheTTL sets how long the default sender is cached.
func WithCacheTTL(ttl time.Duration) MySQLOption {
	return func(m *MySQL) {
		m.cache = ttlcache.New[string, model.Contact](
			ttlcache.WithTTL[string, model.Contact](ttl),
		)
	}
}

// WithLogger sets the logger for cache diagnostics.
func WithLogger(logger *slog.Logger) MySQLOption {
	return func(m *MySQL) {
		m.logger = logger
	}
}

// NewMySQL wraps the database with sqlx and prepares all statements. The
// database can be a real connection or a mock within unit tests.
func NewMySQL(sqlDB *sql.DB, opts ...MySQLOption) (*MySQL, error) {
	m := &MySQL{
		db:     sqlx.NewDb(sqlDB, "mysql"),
		logger: slog.Default(),
	}
	WithCacheTTL(DefaultCacheTTL)(m)
	for _, opt := range opts {
		opt(m)
	}

	var err error
	// Prepared statements offer a significant speed increase if executed many times.
	if m.insert, err = m.db.PrepareNamed(`
		INSERT INTO contacts (contact_key, name, phone, normalized_phone, subscribed)
		VALUES (:contact_key, :name, :phone, :normalized_phone, :subscribed)
	`); err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	if m.update, err = m.db.PrepareNamed(`
		UPDATE contacts
		SET name = :name, phone = :phone, normalized_phone = :normalized_phone, subscribed = :subscribed
		WHERE id = :id
	`); err != nil {
		return nil, fmt.Errorf("preparing update: %w", err)
	}
	statements := []struct {
		stmt **sqlx.Stmt
		sql  string
	}{
		{&m.selectAll, `SELECT * FROM contacts ORDER BY id`},
		{&m.selectWhereId, `SELECT * FROM contacts WHERE id = ?`},
		{&m.selectWhereName, `SELECT * FROM contacts WHERE name = ?`},
		{&m.selectWhereNum, `SELECT * FROM contacts WHERE normalized_phone = ? AND contact_key IS NULL`},
		{&m.selectWhereKey, `SELECT * FROM contacts WHERE contact_key = ?`},
		{&m.deleteWhereId, `DELETE FROM contacts WHERE id = ? AND contact_key IS NULL`},
		{&m.selectPresence, `SELECT available FROM chat_presence WHERE jid = ?`},
		{&m.upsertPresence, `INSERT INTO chat_presence (jid, available) VALUES (?, ?) ON DUPLICATE KEY UPDATE available = VALUES(available)`},
	}
	for _, s := range statements {
		if *s.stmt, err = m.db.Preparex(s.sql); err != nil {
			return nil, fmt.Errorf("preparing %q: %w", s.sql, err)
		}
	}
	return m, nil
}

// getOne runs a single-row select and returns nil if there is no row.
func getOne(ctx context.Context, stmt *sqlx.Stmt, args ...any) (*model.Contact, error) {
	var c model.Contact
	err := stmt.GetContext(ctx, &c, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (m *MySQL) GetByID(ctx context.Context, id int64) (*model.Contact, error) {
	return getOne(ctx, m.selectWhereId, id)
}

func (m *MySQL) GetByName(ctx context.Context, name string) (*model.Contact, error) {
	return getOne(ctx, m.selectWhereName, model.CanonicalName(name))
}

func (m *MySQL) GetByPhoneNumber(ctx context.Context, number string) (*model.Contact, error) {
	return getOne(ctx, m.selectWhereNum, phonenumber.ToNormalized(number))
}

// GetDefaultSender returns the cached default sender, loading or creating it
// on a cache miss.
func (m *MySQL) GetDefaultSender(ctx context.Context) (*model.Contact, error) {
	if item := m.cache.Get(model.DefaultSenderKey); item != nil {
		c := item.Value()
		return &c, nil
	}
	m.logger.Debug("default sender cache miss, querying database")

	c, err := getOne(ctx, m.selectWhereKey, model.DefaultSenderKey)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = model.NewDefaultSender()
		_, err = m.insert.ExecContext(ctx, c)
		if err != nil && !isDuplicate(err) {
			return nil, fmt.Errorf("creating default sender: %w", err)
		}
		// Read back the row, whether we inserted it or a concurrent caller did.
		if c, err = getOne(ctx, m.selectWhereKey, model.DefaultSenderKey); err != nil {
			return nil, err
		}
		if c == nil {
			// The insert failed on the unique name, not on the key.
			return nil, errDefaultSenderName
		}
	}
	m.cache.Set(model.DefaultSenderKey, *c, ttlcache.DefaultTTL)
	return c, nil
}

// List returns all contacts ordered by id.
func (m *MySQL) List(ctx context.Context) ([]model.Contact, error) {
	var contacts []model.Contact
	if err := m.selectAll.SelectContext(ctx, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// Create inserts a new contact and sets its id.
func (m *MySQL) Create(ctx context.Context, c *model.Contact) error {
	if err := prepare(c); err != nil {
		return err
	}
	result, err := m.insert.ExecContext(ctx, c)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	c.Id = id
	return nil
}

// Update writes the contact under its id. A contact without id is created.
func (m *MySQL) Update(ctx context.Context, c *model.Contact) error {
	if c.Id == 0 {
		return m.Create(ctx, c)
	}
	if err := prepare(c); err != nil {
		return err
	}
	_, err := m.update.ExecContext(ctx, c)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if c.IsDefaultSender() {
		m.cache.Delete(model.DefaultSenderKey)
	}
	return nil
}

// Delete removes a contact. The default sender cannot be deleted.
func (m *MySQL) Delete(ctx context.Context, id int64) error {
	c, err := m.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	if c.IsDefaultSender() {
		return ErrDefaultSender
	}
	result, err := m.deleteWhereId.ExecContext(ctx, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MySQL) GetPresence(ctx context.Context, jid string) (bool, bool, error) {
	var available bool
	err := m.selectPresence.GetContext(ctx, &available, jid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return available, true, nil
}

func (m *MySQL) SetPresence(ctx context.Context, jid string, available bool) error {
	_, err := m.upsertPresence.ExecContext(ctx, jid, available)
	return err
}

// Close releases the prepared statements and the database handle.
func (m *MySQL) Close() error {
	for _, s := range []*sqlx.Stmt{
		m.selectAll, m.selectWhereId, m.selectWhereName, m.selectWhereNum,
		m.selectWhereKey, m.deleteWhereId, m.selectPresence, m.upsertPresence,
	} {
		s.Close()
	}
	m.insert.Close()
	m.update.Close()
	return m.db.Close()
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}
