package identity

import (
	"context"
	"database/sql"
)

// PostgresStore persists profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, profile *Profile) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO profiles (handle, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		profile.Handle, profile.Address, profile.CreatedAt, profile.UpdatedAt,
	).Scan(&profile.ID)
}

const profileColumns = `id, handle, address, created_at, updated_at`

func scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Handle, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Profile, error) {
	return scanProfile(p.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
}

func (p *PostgresStore) GetByAddress(ctx context.Context, address string) (*Profile, error) {
	return scanProfile(p.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE address = $1`, address))
}

func (p *PostgresStore) GetByHandle(ctx context.Context, handle string) (*Profile, error) {
	return scanProfile(p.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE handle = $1`, handle))
}

func (p *PostgresStore) AddDelegate(ctx context.Context, profileID, delegateID int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO profile_delegates (profile_id, delegate_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		profileID, delegateID)
	return err
}

func (p *PostgresStore) RemoveDelegate(ctx context.Context, profileID, delegateID int64) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM profile_delegates WHERE profile_id = $1 AND delegate_id = $2`,
		profileID, delegateID)
	return err
}

func (p *PostgresStore) IsDelegate(ctx context.Context, profileID, delegateID int64) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM profile_delegates
			WHERE profile_id = $1 AND delegate_id = $2
		)`, profileID, delegateID).Scan(&exists)
	return exists, err
}
