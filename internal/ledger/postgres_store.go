package ledger

import (
	"context"
	"database/sql"
)

// PostgresStore persists ledger balances and entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetBalance(ctx context.Context, accountID int64, tok string) (*Balance, error) {
	b := &Balance{AccountID: accountID, Token: tok, Available: "0", Escrowed: "0"}
	err := p.db.QueryRowContext(ctx, `
		SELECT available, escrowed FROM ledger_balances
		WHERE account_id = $1 AND token = $2`,
		accountID, tok,
	).Scan(&b.Available, &b.Escrowed)
	if err == sql.ErrNoRows {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Apply upserts the balance rows and appends the entries in one database
// transaction, so a crash can never leave a moved balance without its event.
func (p *PostgresStore) Apply(ctx context.Context, balances []*Balance, entries []*Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_balances (account_id, token, available, escrowed, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (account_id, token)
			DO UPDATE SET available = $3, escrowed = $4, updated_at = NOW()`,
			b.AccountID, b.Token, b.Available, b.Escrowed); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, account_id, token, type, amount, counterparty_id, ref, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.AccountID, e.Token, e.Type, e.Amount, e.CounterpartyID, e.Ref, e.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) ListEntries(ctx context.Context, accountID int64, tok string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, account_id, token, type, amount, counterparty_id, ref, created_at
		FROM ledger_entries
		WHERE account_id = $1 AND token = $2
		ORDER BY created_at, id`
	args := []any{accountID, tok}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Token, &e.Type, &e.Amount,
			&e.CounterpartyID, &e.Ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListBalances(ctx context.Context, accountID int64) ([]*Balance, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT account_id, token, available, escrowed FROM ledger_balances
		WHERE account_id = $1 ORDER BY token`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.AccountID, &b.Token, &b.Available, &b.Escrowed); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
