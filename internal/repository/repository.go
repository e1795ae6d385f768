// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, tenant_id, customer_id, beneficiary, amount, currency,
			destination_country, channel, timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.CustomerID, tx.Beneficiary,
		tx.Amount, tx.Currency,
		tx.DestinationCountry, tx.Channel,
		tx.Timestamp, tx.CreatedAt,
		string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, customer_id, beneficiary, amount, currency,
			   destination_country, channel, timestamp, created_at, metadata
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	var metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.CustomerID, &tx.Beneficiary,
		&tx.Amount, &tx.Currency,
		&tx.DestinationCountry, &tx.Channel,
		&tx.Timestamp, &tx.CreatedAt,
		&metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// GetTransactionsByCustomer retrieves a customer's transactions since
// the given time, most recent first.
func (r *SQLRepository) GetTransactionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, customer_id, beneficiary, amount, currency,
			   destination_country, channel, timestamp, created_at, metadata
		FROM transactions
		WHERE tenant_id = ?
		  AND customer_id = ?
		  AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, customerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var metadata string

		if err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.CustomerID, &tx.Beneficiary,
			&tx.Amount, &tx.Currency,
			&tx.DestinationCountry, &tx.Channel,
			&tx.Timestamp, &tx.CreatedAt,
			&metadata,
		); err != nil {
			return nil, err
		}

		if metadata != "" {
			json.Unmarshal([]byte(metadata), &tx.Metadata)
		}

		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// SaveAlert stores an alert with tenant isolation.
func (r *SQLRepository) SaveAlert(ctx context.Context, tenantID string, alert *domain.Alert) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	rationale, _ := json.Marshal(alert.Rationale)
	features, _ := json.Marshal(alert.Features)

	query := `
		INSERT INTO alerts (
			id, tenant_id, tx_id, label, confidence, rationale, features, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, tenantID, alert.TxID, string(alert.Label), alert.Confidence,
		string(rationale), string(features), alert.Timestamp,
	)
	return err
}

// GetAlert retrieves an alert by ID with tenant isolation.
func (r *SQLRepository) GetAlert(ctx context.Context, tenantID string, alertID string) (*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, label, confidence, rationale, features, timestamp
		FROM alerts
		WHERE tenant_id = ? AND id = ?
	`

	return r.scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, alertID))
}

// GetAlertByTransaction retrieves the alert raised for a transaction.
func (r *SQLRepository) GetAlertByTransaction(ctx context.Context, tenantID string, txID string) (*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, label, confidence, rationale, features, timestamp
		FROM alerts
		WHERE tenant_id = ? AND tx_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	return r.scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
}

func (r *SQLRepository) scanAlert(row *sql.Row) (*domain.Alert, error) {
	var alert domain.Alert
	var label, rationale, features string

	err := row.Scan(
		&alert.ID, &alert.TenantID, &alert.TxID, &label, &alert.Confidence,
		&rationale, &features, &alert.Timestamp,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	alert.Label = domain.AlertLabel(label)
	json.Unmarshal([]byte(rationale), &alert.Rationale)
	json.Unmarshal([]byte(features), &alert.Features)

	return &alert, nil
}

// SaveCase upserts a case with tenant isolation. Cases are updated in
// place as the pipeline appends audit entries and the disposition.
func (r *SQLRepository) SaveCase(ctx context.Context, tenantID string, c *domain.Case) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	auditTrail, _ := json.Marshal(c.AuditTrail)
	var disposition []byte
	if c.Disposition != nil {
		disposition, _ = json.Marshal(c.Disposition)
	}

	query := `
		INSERT INTO cases (
			id, tenant_id, seq, tx_id, alert_id, priority, status,
			disposition, audit_trail, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			priority = excluded.priority,
			status = excluded.status,
			disposition = excluded.disposition,
			audit_trail = excluded.audit_trail,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.Seq, c.TxID, c.AlertID,
		string(c.Priority), string(c.Status),
		nullableString(disposition), string(auditTrail),
		c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetCase retrieves a case by ID with tenant isolation.
func (r *SQLRepository) GetCase(ctx context.Context, tenantID string, caseID string) (*domain.Case, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, seq, tx_id, alert_id, priority, status,
			   disposition, audit_trail, created_at, updated_at
		FROM cases
		WHERE tenant_id = ? AND id = ?
	`

	var c domain.Case
	var priority, status, auditTrail string
	var disposition sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, caseID).Scan(
		&c.ID, &c.TenantID, &c.Seq, &c.TxID, &c.AlertID,
		&priority, &status, &disposition, &auditTrail,
		&c.CreatedAt, &c.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Priority = domain.CasePriority(priority)
	c.Status = domain.CaseStatus(status)
	json.Unmarshal([]byte(auditTrail), &c.AuditTrail)
	if disposition.Valid && disposition.String != "" {
		c.Disposition = &domain.Disposition{}
		json.Unmarshal([]byte(disposition.String), c.Disposition)
	}

	return &c, nil
}

// ListCases retrieves cases for a tenant, optionally filtered by
// status, ordered by sequence.
func (r *SQLRepository) ListCases(ctx context.Context, tenantID string, status domain.CaseStatus) ([]*domain.Case, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, seq, tx_id, alert_id, priority, status,
			   disposition, audit_trail, created_at, updated_at
		FROM cases
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY seq"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		var c domain.Case
		var priority, caseStatus, auditTrail string
		var disposition sql.NullString

		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.Seq, &c.TxID, &c.AlertID,
			&priority, &caseStatus, &disposition, &auditTrail,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}

		c.Priority = domain.CasePriority(priority)
		c.Status = domain.CaseStatus(caseStatus)
		json.Unmarshal([]byte(auditTrail), &c.AuditTrail)
		if disposition.Valid && disposition.String != "" {
			c.Disposition = &domain.Disposition{}
			json.Unmarshal([]byte(disposition.String), c.Disposition)
		}

		cases = append(cases, &c)
	}

	return cases, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
