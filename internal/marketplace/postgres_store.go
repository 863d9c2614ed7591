package marketplace

import (
	"context"
	"database/sql"
)

// PostgresStore persists services and proposals in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed marketplace store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateService(ctx context.Context, s *Service) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO services (
			buyer_id, platform_id, description, status,
			accepted_proposal_id, transaction_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		s.BuyerID, s.PlatformID, s.Description, s.Status,
		s.AcceptedProposalID, s.TransactionID, s.CreatedAt, s.UpdatedAt,
	).Scan(&s.ID)
}

const serviceColumns = `id, buyer_id, platform_id, description, status,
	accepted_proposal_id, transaction_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (*Service, error) {
	var s Service
	err := row.Scan(&s.ID, &s.BuyerID, &s.PlatformID, &s.Description, &s.Status,
		&s.AcceptedProposalID, &s.TransactionID, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) GetService(ctx context.Context, id int64) (*Service, error) {
	return scanService(p.db.QueryRowContext(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
}

func (p *PostgresStore) UpdateService(ctx context.Context, s *Service) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE services SET
			status = $2,
			accepted_proposal_id = $3,
			transaction_id = $4,
			updated_at = $5
		WHERE id = $1`,
		s.ID, s.Status, s.AcceptedProposalID, s.TransactionID, s.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (p *PostgresStore) ListServices(ctx context.Context, platformID int64) ([]*Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services`
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

	var out []*Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateProposal(ctx context.Context, pr *Proposal) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO proposals (
			service_id, seller_id, platform_id, token, amount,
			data_digest, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		pr.ServiceID, pr.SellerID, pr.PlatformID, pr.Token, pr.Amount,
		pr.DataDigest, pr.ExpiresAt, pr.CreatedAt,
	).Scan(&pr.ID)
}

const proposalColumns = `id, service_id, seller_id, platform_id, token, amount,
	data_digest, expires_at, created_at`

func scanProposal(row rowScanner) (*Proposal, error) {
	var pr Proposal
	err := row.Scan(&pr.ID, &pr.ServiceID, &pr.SellerID, &pr.PlatformID,
		&pr.Token, &pr.Amount, &pr.DataDigest, &pr.ExpiresAt, &pr.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (p *PostgresStore) GetProposal(ctx context.Context, id int64) (*Proposal, error) {
	return scanProposal(p.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id))
}

func (p *PostgresStore) ListProposals(ctx context.Context, serviceID int64) ([]*Proposal, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE service_id = $1 ORDER BY id`,
		serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Proposal
	for rows.Next() {
		pr, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}
