package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seer-pm/seer/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const upsertMarket = `
	INSERT INTO markets (
		chain_id, id, url, name, outcomes, questions,
		creator, parent_market, resolved, payout_reported,
		created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		COALESCE($11, NOW()), NOW()
	)
	ON CONFLICT (chain_id, id) DO UPDATE SET
		url             = COALESCE(NULLIF(EXCLUDED.url, ''), markets.url),
		name            = EXCLUDED.name,
		outcomes        = EXCLUDED.outcomes,
		questions       = EXCLUDED.questions,
		creator         = EXCLUDED.creator,
		parent_market   = EXCLUDED.parent_market,
		resolved        = EXCLUDED.resolved,
		payout_reported = EXCLUDED.payout_reported,
		updated_at      = NOW()`

const marketCols = `chain_id, id, url, name, outcomes, questions,
	creator, parent_market, resolved, payout_reported, created_at, updated_at`

func marketArgs(m domain.Market) ([]any, error) {
	questions, err := json.Marshal(nonNilQuestions(m.Questions))
	if err != nil {
		return nil, fmt.Errorf("encode questions: %w", err)
	}
	var createdAt any
	if !m.CreatedAt.IsZero() {
		createdAt = m.CreatedAt
	}
	outcomes := m.Outcomes
	if outcomes == nil {
		outcomes = []string{}
	}
	return []any{
		int64(m.ChainID), strings.ToLower(m.ID), m.URL, m.Name, outcomes, questions,
		strings.ToLower(m.Creator), strings.ToLower(m.ParentMarket), m.Resolved, m.PayoutReported,
		createdAt,
	}, nil
}

func nonNilQuestions(q []domain.Question) []domain.Question {
	if q == nil {
		return []domain.Question{}
	}
	return q
}

// Upsert inserts or updates one market. Markets are never deleted.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	args, err := marketArgs(m)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	if _, err := s.pool.Exec(ctx, upsertMarket, args...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch upserts markets in one round trip.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range markets {
		args, err := marketArgs(m)
		if err != nil {
			return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
		}
		batch.Queue(upsertMarket, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m         domain.Market
		chainID   int64
		questions []byte
	)
	if err := row.Scan(
		&chainID, &m.ID, &m.URL, &m.Name, &m.Outcomes, &questions,
		&m.Creator, &m.ParentMarket, &m.Resolved, &m.PayoutReported,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return domain.Market{}, err
	}
	m.ChainID = uint64(chainID)
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &m.Questions); err != nil {
			return domain.Market{}, fmt.Errorf("decode questions: %w", err)
		}
	}
	return m, nil
}

func (s *MarketStore) getOne(ctx context.Context, what, where string, args ...any) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", what, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", what, err)
	}
	return m, nil
}

// GetByID looks a market up by chain and address.
func (s *MarketStore) GetByID(ctx context.Context, chainID uint64, id string) (domain.Market, error) {
	return s.getOne(ctx, id, "chain_id = $1 AND id = $2", int64(chainID), strings.ToLower(id))
}

// GetByURL looks a market up by chain and URL slug.
func (s *MarketStore) GetByURL(ctx context.Context, chainID uint64, url string) (domain.Market, error) {
	return s.getOne(ctx, "url:"+url, "chain_id = $1 AND url = $2", int64(chainID), url)
}

// List returns markets matching filters, newest first.
func (s *MarketStore) List(ctx context.Context, filters domain.MarketFilters, opts domain.ListOpts) ([]domain.Market, error) {
	where, args := marketWhere(filters, opts)
	query := `SELECT ` + marketCols + ` FROM markets` + where + ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	return out, nil
}

// Count returns the number of indexed markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

// marketWhere builds the WHERE clause for List. Placeholders are numbered
// in the order their arguments are returned.
func marketWhere(f domain.MarketFilters, opts domain.ListOpts) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.ChainIDs) > 0 {
		ids := make([]int64, len(f.ChainIDs))
		for i, id := range f.ChainIDs {
			ids[i] = int64(id)
		}
		add("chain_id = ANY($%d)", ids)
	}
	if f.Creator != "" {
		add("creator = $%d", strings.ToLower(f.Creator))
	}
	if f.Resolved != nil {
		add("resolved = $%d", *f.Resolved)
	}
	if t := strings.TrimSpace(f.Text); t != "" {
		add(`name ILIKE '%%' || $%d || '%%' ESCAPE '\'`, escapeLike(t))
	}
	if opts.Since != nil {
		add("created_at >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add("created_at <= $%d", *opts.Until)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside a LIKE pattern.
func escapeLike(s string) string { return likeEscaper.Replace(s) }
