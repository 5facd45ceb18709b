package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/facturio/factura-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS invoices (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_number TEXT NOT NULL,
	date           TEXT NOT NULL DEFAULT '',
	vendor_name    TEXT NOT NULL,
	total_amount   REAL NOT NULL DEFAULT 0,
	currency       TEXT NOT NULL DEFAULT 'EUR',
	type           TEXT NOT NULL DEFAULT 'Purchase',
	category       TEXT NOT NULL DEFAULT 'Other',
	file_path      TEXT NOT NULL DEFAULT '',
	consumption    REAL,
	unit           TEXT NOT NULL DEFAULT '',
	unit_price     REAL,
	period         TEXT NOT NULL DEFAULT '',
	taxes          REAL,
	power          TEXT NOT NULL DEFAULT '',
	observations   TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS providers (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	vendor_name TEXT NOT NULL,
	category    TEXT NOT NULL,
	patterns    TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extraction_logs (
	id         TEXT PRIMARY KEY,
	file_name  TEXT NOT NULL,
	raw_text   TEXT NOT NULL,
	scores     TEXT NOT NULL,
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_vendor ON invoices(vendor_name);
CREATE INDEX IF NOT EXISTS idx_invoices_category ON invoices(category);
CREATE INDEX IF NOT EXISTS idx_invoices_number ON invoices(invoice_number);
CREATE INDEX IF NOT EXISTS idx_extraction_logs_created ON extraction_logs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveInvoice(ctx context.Context, inv *model.Invoice) (*model.Invoice, error) {
	if !inv.InvoiceNumberEmpty() {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM invoices WHERE invoice_number = ? AND vendor_name = ?`,
			inv.InvoiceNumber, inv.VendorName,
		).Scan(&n)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: check duplicate invoice")
		}
		if n > 0 {
			return nil, ErrDuplicateInvoice
		}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO invoices (invoice_number, date, vendor_name, total_amount, currency, type, category,
			file_path, consumption, unit, unit_price, period, taxes, power, observations, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.InvoiceNumber, inv.Date, inv.VendorName, inv.TotalAmount, inv.Currency, inv.Type, inv.Category,
		inv.FilePath, inv.Consumption, inv.Unit, inv.UnitPrice, inv.Period, inv.Taxes, inv.Power,
		inv.Observations, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert invoice")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: invoice id")
	}

	out := *inv
	out.ID = id
	return &out, nil
}

func (s *SQLiteStore) GetInvoice(ctx context.Context, id int64) (*model.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: invoice not found: %d", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get invoice")
	}
	return inv, nil
}

func (s *SQLiteStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	var args []any

	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.Vendor != "" {
		query += ` AND vendor_name = ?`
		args = append(args, filter.Vendor)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY date DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list invoices")
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan invoice")
		}
		invoices = append(invoices, *inv)
	}
	return invoices, eris.Wrap(rows.Err(), "sqlite: list invoices iterate")
}

func (s *SQLiteStore) DeleteInvoice(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete invoice %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: invoice not found: %d", id)
	}
	return nil
}

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]model.ProviderProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, vendor_name, category, patterns FROM providers ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list providers")
	}
	defer rows.Close()

	var profiles []model.ProviderProfile
	for rows.Next() {
		var p model.ProviderProfile
		var patternsJSON string
		if err := rows.Scan(&p.ID, &p.Name, &p.VendorName, &p.Category, &patternsJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider")
		}
		if err := json.Unmarshal([]byte(patternsJSON), &p.Patterns); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal patterns for %s", p.Name)
		}
		profiles = append(profiles, p)
	}
	return profiles, eris.Wrap(rows.Err(), "sqlite: list providers iterate")
}

func (s *SQLiteStore) SaveProvider(ctx context.Context, p model.ProviderProfile) (*model.ProviderProfile, error) {
	patternsJSON, err := json.Marshal(p.Patterns)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal patterns")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (name, vendor_name, category, patterns) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET vendor_name = excluded.vendor_name,
			category = excluded.category, patterns = excluded.patterns`,
		p.Name, p.VendorName, p.Category, string(patternsJSON),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: save provider %s", p.Name)
	}

	if id, err := res.LastInsertId(); err == nil && id > 0 {
		p.ID = id
	}
	return &p, nil
}

func (s *SQLiteStore) ReplaceProviders(ctx context.Context, profiles []model.ProviderProfile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace providers")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM providers`); err != nil {
		return eris.Wrap(err, "sqlite: clear providers")
	}
	for _, p := range profiles {
		patternsJSON, err := json.Marshal(p.Patterns)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal patterns for %s", p.Name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO providers (name, vendor_name, category, patterns) VALUES (?, ?, ?, ?)`,
			p.Name, p.VendorName, p.Category, string(patternsJSON),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert provider %s", p.Name)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace providers")
}

func (s *SQLiteStore) AppendExtractionLog(ctx context.Context, log *model.ExtractionLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	scoresJSON, err := json.Marshal(log.Scores)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scores")
	}
	resultJSON, err := json.Marshal(log.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal log result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_logs (id, file_name, raw_text, scores, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID, log.FileName, log.RawText, string(scoresJSON), string(resultJSON), log.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert extraction log")
}

func (s *SQLiteStore) ListExtractionLogs(ctx context.Context, limit int) ([]model.ExtractionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_name, raw_text, scores, result, created_at FROM extraction_logs
		 ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extraction logs")
	}
	defer rows.Close()

	var logs []model.ExtractionLog
	for rows.Next() {
		var l model.ExtractionLog
		var scoresJSON, resultJSON string
		if err := rows.Scan(&l.ID, &l.FileName, &l.RawText, &scoresJSON, &resultJSON, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction log")
		}
		if err := json.Unmarshal([]byte(scoresJSON), &l.Scores); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal scores")
		}
		if err := json.Unmarshal([]byte(resultJSON), &l.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal log result")
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list extraction logs iterate")
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return eris.Wrapf(err, "sqlite: set setting %s", key)
}

func (s *SQLiteStore) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list settings")
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan setting")
		}
		settings[k] = v
	}
	return settings, eris.Wrap(rows.Err(), "sqlite: list settings iterate")
}

// helpers

const invoiceColumns = `id, invoice_number, date, vendor_name, total_amount, currency, type, category,
	file_path, consumption, unit, unit_price, period, taxes, power, observations`

type scannable interface {
	Scan(dest ...any) error
}

func scanInvoice(row scannable) (*model.Invoice, error) {
	var inv model.Invoice
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.Date, &inv.VendorName, &inv.TotalAmount, &inv.Currency,
		&inv.Type, &inv.Category, &inv.FilePath, &inv.Consumption, &inv.Unit, &inv.UnitPrice,
		&inv.Period, &inv.Taxes, &inv.Power, &inv.Observations,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
