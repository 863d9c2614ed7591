package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists transactions and fee balances in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO transactions (
			sender_id, receiver_id, service_id, proposal_id, token,
			amount, original_amount, released_amount, locked_total,
			protocol_fee_rate, origin_service_fee_rate, origin_proposal_fee_rate,
			service_platform_id, proposal_platform_id,
			arbitration_fee_timeout_seconds, status, sender_fee, receiver_fee,
			dispute_id, last_interaction, meta_evidence_uri, threshold_crossed,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		RETURNING id`,
		tx.SenderID, tx.ReceiverID, tx.ServiceID, tx.ProposalID, tx.Token,
		tx.Amount, tx.OriginalAmount, tx.ReleasedAmount, tx.LockedTotal,
		tx.ProtocolFeeRate, tx.OriginServiceFeeRate, tx.OriginProposalFeeRate,
		tx.ServicePlatformID, tx.ProposalPlatformID,
		int64(tx.ArbitrationFeeTimeout.Seconds()), tx.Status, tx.SenderFee, tx.ReceiverFee,
		tx.DisputeID, tx.LastInteraction, tx.MetaEvidenceURI, tx.ThresholdCrossed,
		tx.CreatedAt, tx.UpdatedAt,
	).Scan(&tx.ID)
}

const transactionColumns = `id, sender_id, receiver_id, service_id, proposal_id, token,
	amount, original_amount, released_amount, locked_total,
	protocol_fee_rate, origin_service_fee_rate, origin_proposal_fee_rate,
	service_platform_id, proposal_platform_id,
	arbitration_fee_timeout_seconds, status, sender_fee, receiver_fee,
	dispute_id, last_interaction, meta_evidence_uri, threshold_crossed,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var tx Transaction
	var timeoutSeconds int64
	err := row.Scan(&tx.ID, &tx.SenderID, &tx.ReceiverID, &tx.ServiceID, &tx.ProposalID, &tx.Token,
		&tx.Amount, &tx.OriginalAmount, &tx.ReleasedAmount, &tx.LockedTotal,
		&tx.ProtocolFeeRate, &tx.OriginServiceFeeRate, &tx.OriginProposalFeeRate,
		&tx.ServicePlatformID, &tx.ProposalPlatformID,
		&timeoutSeconds, &tx.Status, &tx.SenderFee, &tx.ReceiverFee,
		&tx.DisputeID, &tx.LastInteraction, &tx.MetaEvidenceURI, &tx.ThresholdCrossed,
		&tx.CreatedAt, &tx.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	tx.ArbitrationFeeTimeout = time.Duration(timeoutSeconds) * time.Second
	return &tx, nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Transaction, error) {
	return scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (p *PostgresStore) GetByDisputeID(ctx context.Context, disputeID int64) (*Transaction, error) {
	return scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE dispute_id = $1`, disputeID))
}

func (p *PostgresStore) Update(ctx context.Context, tx *Transaction) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET
			amount = $2,
			released_amount = $3,
			locked_total = $4,
			status = $5,
			sender_fee = $6,
			receiver_fee = $7,
			dispute_id = $8,
			last_interaction = $9,
			threshold_crossed = $10,
			updated_at = $11
		WHERE id = $1`,
		tx.ID, tx.Amount, tx.ReleasedAmount, tx.LockedTotal, tx.Status,
		tx.SenderFee, tx.ReceiverFee, tx.DisputeID, tx.LastInteraction,
		tx.ThresholdCrossed, tx.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, profileID int64, limit int) ([]*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	args := []any{}
	if profileID != 0 {
		query += ` WHERE sender_id = $1 OR receiver_id = $1`
		args = append(args, profileID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListExpiredWaiting(ctx context.Context, now time.Time) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status IN ('waiting_sender', 'waiting_receiver')
		AND last_interaction + make_interval(secs => arbitration_fee_timeout_seconds) <= $1
		ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreditFee(ctx context.Context, beneficiaryID int64, tok, amount string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fee_balances (beneficiary_id, token, amount, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (beneficiary_id, token)
		DO UPDATE SET amount = (fee_balances.amount::numeric + $3::numeric)::text, updated_at = NOW()`,
		beneficiaryID, tok, amount)
	return err
}

func (p *PostgresStore) FeeBalance(ctx context.Context, beneficiaryID int64, tok string) (*FeeBalance, error) {
	fb := &FeeBalance{BeneficiaryID: beneficiaryID, Token: tok, Amount: "0"}
	err := p.db.QueryRowContext(ctx,
		`SELECT amount FROM fee_balances WHERE beneficiary_id = $1 AND token = $2`,
		beneficiaryID, tok,
	).Scan(&fb.Amount)
	if err == sql.ErrNoRows {
		return fb, nil
	}
	if err != nil {
		return nil, err
	}
	return fb, nil
}

// ClaimFee zeroes the balance and returns what it held, atomically, so two
// concurrent claims cannot both withdraw.
func (p *PostgresStore) ClaimFee(ctx context.Context, beneficiaryID int64, tok string) (string, error) {
	var amount string
	err := p.db.QueryRowContext(ctx, `
		WITH held AS (
			SELECT beneficiary_id, token, amount FROM fee_balances
			WHERE beneficiary_id = $1 AND token = $2 AND amount <> '0'
			FOR UPDATE
		)
		UPDATE fee_balances fb SET amount = '0', updated_at = NOW()
		FROM held
		WHERE fb.beneficiary_id = held.beneficiary_id AND fb.token = held.token
		RETURNING held.amount`,
		beneficiaryID, tok).Scan(&amount)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return amount, nil
}
