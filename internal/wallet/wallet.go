// Package wallet keeps the client's coins: one row per one-time spend
// key, with the seed needed to sign the spend when the coin moves.
package wallet

import (
	"crypto/rand"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"xornet/internal/transfers"
)

// Coin is one spendable unit.
type Coin struct {
	ID        string
	Amount    uint64
	Spent     bool
	CreatedAt time.Time
}

type Wallet struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS coins (
	id TEXT PRIMARY KEY,
	seed BLOB NOT NULL,
	amount INTEGER NOT NULL,
	spent INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);`

func Open(path string) (*Wallet, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open wallet db")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init wallet schema")
	}
	return &Wallet{db: db}, nil
}

func (w *Wallet) Close() error {
	return w.db.Close()
}

// Deposit mints a coin with a fresh one-time key and returns it.
func (w *Wallet) Deposit(amount uint64) (Coin, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return Coin{}, errors.Wrap(err, "coin seed")
	}
	signer, err := transfers.NewSignerFromSeed(seed)
	if err != nil {
		return Coin{}, errors.Wrap(err, "coin key")
	}
	id := transfers.IDFromPubKey(signer.PublicKey()).String()
	now := time.Now().UTC()
	_, err = w.db.Exec(
		"INSERT INTO coins (id, seed, amount, spent, created_at) VALUES (?, ?, ?, 0, ?)",
		id, seed, amount, now,
	)
	if err != nil {
		return Coin{}, errors.Wrap(err, "insert coin")
	}
	return Coin{ID: id, Amount: amount, CreatedAt: now}, nil
}

// List returns coins, unspent first, newest last.
func (w *Wallet) List(includeSpent bool) ([]Coin, error) {
	q := "SELECT id, amount, spent, created_at FROM coins"
	if !includeSpent {
		q += " WHERE spent = 0"
	}
	q += " ORDER BY spent ASC, created_at ASC"
	rows, err := w.db.Query(q)
	if err != nil {
		return nil, errors.Wrap(err, "list coins")
	}
	defer rows.Close()
	var out []Coin
	for rows.Next() {
		var c Coin
		var spent int
		if err := rows.Scan(&c.ID, &c.Amount, &spent, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan coin")
		}
		c.Spent = spent != 0
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "list coins")
}

// Balance sums unspent coins.
func (w *Wallet) Balance() (uint64, error) {
	var total sql.NullInt64
	err := w.db.QueryRow("SELECT SUM(amount) FROM coins WHERE spent = 0").Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "balance")
	}
	return uint64(total.Int64), nil
}

// SignerFor rebuilds the one-time signer of an unspent coin.
func (w *Wallet) SignerFor(id string) (*transfers.Signer, uint64, error) {
	var seed []byte
	var amount uint64
	var spent int
	err := w.db.QueryRow("SELECT seed, amount, spent FROM coins WHERE id = ?", id).
		Scan(&seed, &amount, &spent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, errors.Errorf("no coin %s", id)
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "load coin")
	}
	if spent != 0 {
		return nil, 0, errors.Errorf("coin %s already spent", id)
	}
	signer, err := transfers.NewSignerFromSeed(seed)
	if err != nil {
		return nil, 0, errors.Wrap(err, "rebuild coin key")
	}
	return signer, amount, nil
}

// MarkSpent records a coin as gone. It is an error to mark a coin
// twice: a wallet that tries is confused about its own state.
func (w *Wallet) MarkSpent(id string) error {
	res, err := w.db.Exec("UPDATE coins SET spent = 1 WHERE id = ? AND spent = 0", id)
	if err != nil {
		return errors.Wrap(err, "mark spent")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "mark spent")
	}
	if n == 0 {
		return errors.Errorf("coin %s not found or already spent", id)
	}
	return nil
}
