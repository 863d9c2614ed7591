package arbitration

import (
	"context"
	"database/sql"
)

// PostgresStore persists disputes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO disputes (transaction_id, platform_id, fee, status, ruling, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		d.TransactionID, d.PlatformID, d.Fee, d.Status, d.Ruling, d.CreatedAt,
	).Scan(&d.ID)
}

const disputeColumns = `id, transaction_id, platform_id, fee, status, ruling, created_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row rowScanner) (*Dispute, error) {
	var d Dispute
	err := row.Scan(&d.ID, &d.TransactionID, &d.PlatformID, &d.Fee,
		&d.Status, &d.Ruling, &d.CreatedAt, &d.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Dispute, error) {
	return scanDispute(p.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET status = $2, ruling = $3, resolved_at = $4
		WHERE id = $1`,
		d.ID, d.Status, d.Ruling, d.ResolvedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, platformID int64) ([]*Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	args := []any{}
	if platformID != 0 {
		query += ` WHERE platform_id = $1`
		args = append(args, platformID)
	}
	query += ` ORDER BY id`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
