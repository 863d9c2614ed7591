package platform

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists platforms in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed platform store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, pl *Platform) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO platforms (
			name, owner_id, origin_service_fee_rate, origin_proposal_fee_rate,
			arbitration_price, arbitration_fee_timeout_seconds, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		pl.Name, pl.OwnerID, pl.OriginServiceFeeRate, pl.OriginProposalFeeRate,
		pl.ArbitrationPrice, int64(pl.ArbitrationFeeTimeout.Seconds()),
		pl.CreatedAt, pl.UpdatedAt,
	).Scan(&pl.ID)
}

const platformColumns = `id, name, owner_id, origin_service_fee_rate, origin_proposal_fee_rate,
	arbitration_price, arbitration_fee_timeout_seconds, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlatform(row rowScanner) (*Platform, error) {
	var pl Platform
	var timeoutSeconds int64
	err := row.Scan(&pl.ID, &pl.Name, &pl.OwnerID, &pl.OriginServiceFeeRate,
		&pl.OriginProposalFeeRate, &pl.ArbitrationPrice, &timeoutSeconds,
		&pl.CreatedAt, &pl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPlatformNotFound
	}
	if err != nil {
		return nil, err
	}
	pl.ArbitrationFeeTimeout = time.Duration(timeoutSeconds) * time.Second
	return &pl, nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Platform, error) {
	return scanPlatform(p.db.QueryRowContext(ctx,
		`SELECT `+platformColumns+` FROM platforms WHERE id = $1`, id))
}

func (p *PostgresStore) Update(ctx context.Context, pl *Platform) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE platforms SET
			name = $2,
			origin_service_fee_rate = $3,
			origin_proposal_fee_rate = $4,
			arbitration_price = $5,
			arbitration_fee_timeout_seconds = $6,
			updated_at = $7
		WHERE id = $1`,
		pl.ID, pl.Name, pl.OriginServiceFeeRate, pl.OriginProposalFeeRate,
		pl.ArbitrationPrice, int64(pl.ArbitrationFeeTimeout.Seconds()), pl.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPlatformNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Platform, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+platformColumns+` FROM platforms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Platform
	for rows.Next() {
		pl, err := scanPlatform(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}
