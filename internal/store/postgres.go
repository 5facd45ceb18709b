package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/facturio/factura-cli/internal/db"
	"github.com/facturio/factura-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS invoices (
	id             BIGSERIAL PRIMARY KEY,
	invoice_number TEXT NOT NULL,
	date           TEXT NOT NULL DEFAULT '',
	vendor_name    TEXT NOT NULL,
	total_amount   DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency       TEXT NOT NULL DEFAULT 'EUR',
	type           TEXT NOT NULL DEFAULT 'Purchase',
	category       TEXT NOT NULL DEFAULT 'Other',
	file_path      TEXT NOT NULL DEFAULT '',
	consumption    DOUBLE PRECISION,
	unit           TEXT NOT NULL DEFAULT '',
	unit_price     DOUBLE PRECISION,
	period         TEXT NOT NULL DEFAULT '',
	taxes          DOUBLE PRECISION,
	power          TEXT NOT NULL DEFAULT '',
	observations   TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS providers (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	vendor_name TEXT NOT NULL,
	category    TEXT NOT NULL,
	patterns    JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extraction_logs (
	id         TEXT PRIMARY KEY,
	file_name  TEXT NOT NULL,
	raw_text   TEXT NOT NULL,
	scores     JSONB NOT NULL,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveInvoice(ctx context.Context, inv *model.Invoice) (*model.Invoice, error) {
	if !inv.InvoiceNumberEmpty() {
		var n int
		err := s.pool.QueryRow(ctx,
			`SELECT COUNT(1) FROM invoices WHERE invoice_number = $1 AND vendor_name = $2`,
			inv.InvoiceNumber, inv.VendorName,
		).Scan(&n)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: check duplicate invoice")
		}
		if n > 0 {
			return nil, ErrDuplicateInvoice
		}
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO invoices (invoice_number, date, vendor_name, total_amount, currency, type, category,
			file_path, consumption, unit, unit_price, period, taxes, power, observations)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		inv.InvoiceNumber, inv.Date, inv.VendorName, inv.TotalAmount, inv.Currency, inv.Type, inv.Category,
		inv.FilePath, inv.Consumption, inv.Unit, inv.UnitPrice, inv.Period, inv.Taxes, inv.Power,
		inv.Observations,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert invoice")
	}

	out := *inv
	out.ID = id
	return &out, nil
}

func (s *PostgresStore) GetInvoice(ctx context.Context, id int64) (*model.Invoice, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgInvoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: invoice not found: %d", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get invoice")
	}
	return inv, nil
}

func (s *PostgresStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error) {
	query := `SELECT ` + pgInvoiceColumns + ` FROM invoices WHERE 1=1`
	var args []any

	if filter.Category != "" {
		args = append(args, filter.Category)
		query += ` AND category = ` + placeholder(len(args))
	}
	if filter.Vendor != "" {
		args = append(args, filter.Vendor)
		query += ` AND vendor_name = ` + placeholder(len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += ` AND type = ` + placeholder(len(args))
	}
	query += ` ORDER BY date DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)
	query += ` LIMIT ` + placeholder(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET ` + placeholder(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list invoices")
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan invoice")
		}
		invoices = append(invoices, *inv)
	}
	return invoices, eris.Wrap(rows.Err(), "postgres: list invoices iterate")
}

func (s *PostgresStore) DeleteInvoice(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete invoice %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: invoice not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]model.ProviderProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, vendor_name, category, patterns FROM providers ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list providers")
	}
	defer rows.Close()

	var profiles []model.ProviderProfile
	for rows.Next() {
		var p model.ProviderProfile
		var patternsJSON []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.VendorName, &p.Category, &patternsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider")
		}
		if err := json.Unmarshal(patternsJSON, &p.Patterns); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal patterns for %s", p.Name)
		}
		profiles = append(profiles, p)
	}
	return profiles, eris.Wrap(rows.Err(), "postgres: list providers iterate")
}

func (s *PostgresStore) SaveProvider(ctx context.Context, p model.ProviderProfile) (*model.ProviderProfile, error) {
	patternsJSON, err := json.Marshal(p.Patterns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal patterns")
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO providers (name, vendor_name, category, patterns) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET vendor_name = EXCLUDED.vendor_name,
			category = EXCLUDED.category, patterns = EXCLUDED.patterns
		 RETURNING id`,
		p.Name, p.VendorName, p.Category, patternsJSON,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: save provider %s", p.Name)
	}

	p.ID = id
	return &p, nil
}

func (s *PostgresStore) ReplaceProviders(ctx context.Context, profiles []model.ProviderProfile) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE providers RESTART IDENTITY`); err != nil {
		return eris.Wrap(err, "postgres: clear providers")
	}

	rows := make([][]any, 0, len(profiles))
	for _, p := range profiles {
		patternsJSON, err := json.Marshal(p.Patterns)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal patterns for %s", p.Name)
		}
		rows = append(rows, []any{p.Name, p.VendorName, p.Category, patternsJSON})
	}

	_, err := db.CopyFrom(ctx, s.pool, "providers", []string{"name", "vendor_name", "category", "patterns"}, rows)
	return eris.Wrap(err, "postgres: replace providers")
}

func (s *PostgresStore) AppendExtractionLog(ctx context.Context, log *model.ExtractionLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	scoresJSON, err := json.Marshal(log.Scores)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scores")
	}
	resultJSON, err := json.Marshal(log.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal log result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_logs (id, file_name, raw_text, scores, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ID, log.FileName, log.RawText, scoresJSON, resultJSON, log.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert extraction log")
}

func (s *PostgresStore) ListExtractionLogs(ctx context.Context, limit int) ([]model.ExtractionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, file_name, raw_text, scores, result, created_at FROM extraction_logs
		 ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extraction logs")
	}
	defer rows.Close()

	var logs []model.ExtractionLog
	for rows.Next() {
		var l model.ExtractionLog
		var scoresJSON, resultJSON []byte
		if err := rows.Scan(&l.ID, &l.FileName, &l.RawText, &scoresJSON, &resultJSON, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction log")
		}
		if err := json.Unmarshal(scoresJSON, &l.Scores); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal scores")
		}
		if err := json.Unmarshal(resultJSON, &l.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal log result")
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list extraction logs iterate")
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set setting %s", key)
}

func (s *PostgresStore) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list settings")
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan setting")
		}
		settings[k] = v
	}
	return settings, eris.Wrap(rows.Err(), "postgres: list settings iterate")
}

// helpers

const pgInvoiceColumns = `id, invoice_number, date, vendor_name, total_amount, currency, type, category,
	file_path, consumption, unit, unit_price, period, taxes, power, observations`

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
