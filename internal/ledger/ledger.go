// Package ledger is the value backbone of the escrow engine.
//
// Every profile has one balance per token, split into an available part and
// an escrowed part. Escrow locks move value between the two halves; releases
// and fee credits move escrowed value to another account's available half.
// Each movement appends an immutable event, and any balance can be rebuilt
// by replaying its event stream.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/openwork-labs/escrowd/internal/token"
)

var (
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientEscrowed  = errors.New("insufficient escrowed balance")
	ErrNonPositiveAmount     = errors.New("amount must be positive")
)

// FeePool is the synthetic account that holds accrued, unclaimed fees.
// Claimable ownership of its contents is tracked by the escrow engine's
// fee-balance table, not here.
const FeePool int64 = -1

// Balance is one account's position in one token.
type Balance struct {
	AccountID int64  `json:"accountId"`
	Token     string `json:"token"`
	Available string `json:"available"`
	Escrowed  string `json:"escrowed"`
}

// Entry is one immutable ledger event affecting a single account.
type Entry struct {
	ID             string    `json:"id"`
	AccountID      int64     `json:"accountId"`
	Token          string    `json:"token"`
	Type           EntryType `json:"type"`
	Amount         string    `json:"amount"`
	CounterpartyID int64     `json:"counterpartyId,omitempty"`
	Ref            string    `json:"ref,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EntryType identifies how an entry moves value for its account.
type EntryType string

const (
	EntryDeposit     EntryType = "deposit"      // available += amount
	EntryWithdrawal  EntryType = "withdrawal"   // available -= amount
	EntryLock        EntryType = "lock"         // available -> escrowed
	EntryUnlock      EntryType = "unlock"       // escrowed -> available
	EntryReleaseOut  EntryType = "release_out"  // escrowed -= amount, paid to counterparty
	EntryReleaseIn   EntryType = "release_in"   // available += amount, from counterparty's escrow
	EntryTransferOut EntryType = "transfer_out" // available -= amount
	EntryTransferIn  EntryType = "transfer_in"  // available += amount
)

// Store persists balances and their event streams. Mutations of a balance
// and the append of its entry must be atomic.
type Store interface {
	GetBalance(ctx context.Context, accountID int64, tok string) (*Balance, error)
	// Apply atomically persists the updated balances and appends the entries.
	Apply(ctx context.Context, balances []*Balance, entries []*Entry) error
	ListEntries(ctx context.Context, accountID int64, tok string, limit int) ([]*Entry, error)
	ListBalances(ctx context.Context, accountID int64) ([]*Balance, error)
}

// Service implements double-entry value movement over a Store.
type Service struct {
	store Store
	newID func() string
	now   func() time.Time
}

// NewService creates a new ledger service. newID mints entry ids.
func NewService(store Store, newID func() string) *Service {
	return &Service{store: store, newID: newID, now: time.Now}
}

func parsePositive(amount string) (*big.Int, error) {
	v, err := token.ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, ErrNonPositiveAmount
	}
	return v, nil
}

func (s *Service) balance(ctx context.Context, accountID int64, tok string) (*Balance, *big.Int, *big.Int, error) {
	b, err := s.store.GetBalance(ctx, accountID, tok)
	if err != nil {
		return nil, nil, nil, err
	}
	avail, err := token.ParseAmount(b.Available)
	if err != nil {
		return nil, nil, nil, err
	}
	esc, err := token.ParseAmount(b.Escrowed)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, avail, esc, nil
}

func (s *Service) entry(accountID int64, tok string, typ EntryType, amount *big.Int, counterparty int64, ref string) *Entry {
	return &Entry{
		ID:             s.newID(),
		AccountID:      accountID,
		Token:          tok,
		Type:           typ,
		Amount:         amount.String(),
		CounterpartyID: counterparty,
		Ref:            ref,
		CreatedAt:      s.now(),
	}
}

// Deposit credits an account's available balance.
func (s *Service) Deposit(ctx context.Context, accountID int64, tok, amount, ref string) error {
	v, err := parsePositive(amount)
	if err != nil {
		return err
	}
	b, avail, _, err := s.balance(ctx, accountID, tok)
	if err != nil {
		return err
	}
	b.Available = new(big.Int).Add(avail, v).String()
	return s.store.Apply(ctx, []*Balance{b},
		[]*Entry{s.entry(accountID, tok, EntryDeposit, v, 0, ref)})
}

// Withdraw debits an account's available balance.
func (s *Service) Withdraw(ctx context.Context, accountID int64, tok, amount, ref string) error {
	v, err := parsePositive(amount)
	if err != nil {
		return err
	}
	b, avail, _, err := s.balance(ctx, accountID, tok)
	if err != nil {
		return err
	}
	if avail.Cmp(v) < 0 {
		return ErrInsufficientAvailable
	}
	b.Available = new(big.Int).Sub(avail, v).String()
	return s.store.Apply(ctx, []*Balance{b},
		[]*Entry{s.entry(accountID, tok, EntryWithdrawal, v, 0, ref)})
}

// Lock moves value from an account's available half to its escrowed half.
func (s *Service) Lock(ctx context.Context, accountID int64, tok, amount, ref string) error {
	v, err := parsePositive(amount)
	if err != nil {
		return err
	}
	b, avail, esc, err := s.balance(ctx, accountID, tok)
	if err != nil {
		return err
	}
	if avail.Cmp(v) < 0 {
		return ErrInsufficientAvailable
	}
	b.Available = new(big.Int).Sub(avail, v).String()
	b.Escrowed = new(big.Int).Add(esc, v).String()
	return s.store.Apply(ctx, []*Balance{b},
		[]*Entry{s.entry(accountID, tok, EntryLock, v, 0, ref)})
}

// Unlock moves value back from escrowed to available.
func (s *Service) Unlock(ctx context.Context, accountID int64, tok, amount, ref string) error {
	v, err := parsePositive(amount)
	if err != nil {
		return err
	}
	b, avail, esc, err := s.balance(ctx, accountID, tok)
	if err != nil {
		return err
	}
	if esc.Cmp(v) < 0 {
		return ErrInsufficientEscrowed
	}
	b.Escrowed = new(big.Int).Sub(esc, v).String()
	b.Available = new(big.Int).Add(avail, v).String()
	return s.store.Apply(ctx, []*Balance{b},
		[]*Entry{s.entry(accountID, tok, EntryUnlock, v, 0, ref)})
}

// ReleaseTo pays value out of one account's escrow into another account's
// available balance. Both balances and both entries commit atomically.
func (s *Service) ReleaseTo(ctx context.Context, fromID, toID int64, tok, amount, ref string) error {
	v, err := parsePositive(amount)
	if err != nil {
		return err
	}
	from, _, fromEsc, err := s.balance(ctx, fromID, tok)
	if err != nil {
		return err
	}
	if fromEsc.Cmp(v) < 0 {
		return ErrInsufficientEscrowed
	}
	to, toAvail, _, err := s.balance(ctx, toID, tok)
	if err != nil {
		return err
	}
	from.Escrowed = new(big.Int).Sub(fromEsc, v).String()
	to.Available = new(big.Int).Add(toAvail, v).String()
	return s.store.Apply(ctx, []*Balance{from, to}, []*Entry{
		s.entry(fromID, tok, EntryReleaseOut, v, toID, ref),
		s.entry(toID, tok, EntryReleaseIn, v, fromID, ref),
	})
}

// Transfer moves available value between two accounts.
func (s *Service) Transfer(ctx context.Context, fromID, toID int64, tok, amount, ref string) error {
	v, err := parsePositive(amount)
	if err != nil {
		return err
	}
	from, fromAvail, _, err := s.balance(ctx, fromID, tok)
	if err != nil {
		return err
	}
	if fromAvail.Cmp(v) < 0 {
		return ErrInsufficientAvailable
	}
	to, toAvail, _, err := s.balance(ctx, toID, tok)
	if err != nil {
		return err
	}
	from.Available = new(big.Int).Sub(fromAvail, v).String()
	to.Available = new(big.Int).Add(toAvail, v).String()
	return s.store.Apply(ctx, []*Balance{from, to}, []*Entry{
		s.entry(fromID, tok, EntryTransferOut, v, toID, ref),
		s.entry(toID, tok, EntryTransferIn, v, fromID, ref),
	})
}

// Balance returns an account's position in a token. Unknown accounts read
// as zero.
func (s *Service) Balance(ctx context.Context, accountID int64, tok string) (*Balance, error) {
	return s.store.GetBalance(ctx, accountID, tok)
}

// Balances returns all nonzero positions of an account.
func (s *Service) Balances(ctx context.Context, accountID int64) ([]*Balance, error) {
	return s.store.ListBalances(ctx, accountID)
}

// History returns the most recent entries for an account and token.
func (s *Service) History(ctx context.Context, accountID int64, tok string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.ListEntries(ctx, accountID, tok, limit)
}
