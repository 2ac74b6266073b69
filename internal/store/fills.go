package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"tradejournal/internal/domain"
)

// InsertFill inserts a fill, deduplicating on the broker's external trade ID.
// Returns true if the row was inserted.
func (r *Repository) InsertFill(ctx context.Context, tx pgx.Tx, fill *domain.TradeFill) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO trade_fills (
			id, account_id, symbol, side, quantity, price, fee,
			executed_at, external_trade_id, source, ingested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id, external_trade_id) WHERE external_trade_id <> '' DO NOTHING
	`,
		fill.ID, fill.AccountID, fill.Symbol, string(fill.Side),
		fill.Quantity, fill.Price, fill.Fee,
		fill.ExecutedAt, fill.ExternalTradeID, string(fill.Source), fill.IngestedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert fill: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IngestFill inserts a fill together with its placeholder decision context
// in one transaction. The strategy tag, when present, lands on the context.
// Returns true if the fill was new.
func (r *Repository) IngestFill(ctx context.Context, fill *domain.TradeFill, strategyID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := r.InsertFill(ctx, tx, fill)
	if err != nil {
		return false, err
	}
	if inserted {
		if err := r.EnsureDecisionContext(ctx, tx, fill); err != nil {
			return false, err
		}
		if strategyID != "" {
			if _, err := tx.Exec(ctx,
				"UPDATE decision_contexts SET strategy_id = $2, updated_at = NOW() WHERE fill_id = $1",
				fill.ID, strategyID,
			); err != nil {
				return false, fmt.Errorf("tag strategy: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit ingest: %w", err)
	}
	return inserted, nil
}

const fillColumns = `id, account_id, symbol, side, quantity, price, fee,
	executed_at, external_trade_id, source, ingested_at`

func scanFill(row pgx.Row) (domain.TradeFill, error) {
	var f domain.TradeFill
	var side, source string
	err := row.Scan(
		&f.ID, &f.AccountID, &f.Symbol, &side, &f.Quantity, &f.Price, &f.Fee,
		&f.ExecutedAt, &f.ExternalTradeID, &source, &f.IngestedAt,
	)
	if err != nil {
		return f, err
	}
	f.Side = domain.Side(side)
	f.Source = domain.FillSource(source)
	return f, nil
}

// FillsForSymbol returns the full fill history for one (account, symbol)
// partition in execution order, the matcher's required input ordering.
func (r *Repository) FillsForSymbol(ctx context.Context, tx pgx.Tx, accountID, symbol string) ([]domain.TradeFill, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM trade_fills
		WHERE account_id = $1 AND symbol = $2
		ORDER BY executed_at ASC, id ASC
	`, fillColumns), accountID, symbol)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.TradeFill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// SymbolsWithFills lists the distinct symbols an account has fills for.
func (r *Repository) SymbolsWithFills(ctx context.Context, accountID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT DISTINCT symbol FROM trade_fills WHERE account_id = $1 ORDER BY symbol", accountID)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// ProcessedFillIDs returns the fill IDs already reflected in the ledger for a
// partition: every lot's opening fill plus every closure's closing fill.
func (r *Repository) ProcessedFillIDs(ctx context.Context, tx pgx.Tx, accountID, symbol string) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT open_fill_id FROM position_lots WHERE account_id = $1 AND symbol = $2
		UNION
		SELECT c.close_fill_id FROM lot_closures c
		JOIN position_lots l ON l.id = c.lot_id
		WHERE l.account_id = $1 AND l.symbol = $2
	`, accountID, symbol)
	if err != nil {
		return nil, fmt.Errorf("query processed fills: %w", err)
	}
	defer rows.Close()

	processed := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan fill id: %w", err)
		}
		processed[id] = true
	}
	return processed, rows.Err()
}

// FillFilter defines filters for listing fills.
type FillFilter struct {
	Symbol string
	Side   string
	Start  *time.Time
	End    *time.Time
	Cursor string
	Limit  int
}

// FillListResult contains paginated fill results.
type FillListResult struct {
	Fills      []domain.TradeFill `json:"fills"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// ListFills returns fills for an account with filters and cursor-based pagination.
func (r *Repository) ListFills(ctx context.Context, accountID string, filter FillFilter) (*FillListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}

	var conditions []string
	var args []interface{}
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIdx))
	args = append(args, accountID)
	argIdx++

	if filter.Symbol != "" {
		conditions = append(conditions, fmt.Sprintf("symbol = $%d", argIdx))
		args = append(args, filter.Symbol)
		argIdx++
	}
	if filter.Side != "" {
		conditions = append(conditions, fmt.Sprintf("side = $%d", argIdx))
		args = append(args, filter.Side)
		argIdx++
	}
	if filter.Start != nil {
		conditions = append(conditions, fmt.Sprintf("executed_at >= $%d", argIdx))
		args = append(args, *filter.Start)
		argIdx++
	}
	if filter.End != nil {
		conditions = append(conditions, fmt.Sprintf("executed_at <= $%d", argIdx))
		args = append(args, *filter.End)
		argIdx++
	}

	// Cursor-based pagination: cursor is base64-encoded "timestamp|id"
	if filter.Cursor != "" {
		cursorTS, cursorID, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		conditions = append(conditions, fmt.Sprintf(
			"(executed_at, id) < ($%d, $%d)", argIdx, argIdx+1,
		))
		args = append(args, cursorTS, cursorID)
		argIdx += 2
	}

	where := strings.Join(conditions, " AND ")

	query := fmt.Sprintf(`
		SELECT %s FROM trade_fills
		WHERE %s
		ORDER BY executed_at DESC, id DESC
		LIMIT $%d
	`, fillColumns, where, argIdx)
	args = append(args, filter.Limit+1) // fetch one extra to check if there's a next page

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.TradeFill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, f)
	}

	result := &FillListResult{}
	if len(fills) > filter.Limit {
		fills = fills[:filter.Limit]
		last := fills[len(fills)-1]
		result.NextCursor = encodeCursor(last.ExecutedAt, last.ID)
	}
	result.Fills = fills
	if result.Fills == nil {
		result.Fills = []domain.TradeFill{}
	}

	return result, nil
}

func encodeCursor(ts time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", ts.Format(time.RFC3339Nano), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decode base64: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse timestamp: %w", err)
	}
	return ts, parts[1], nil
}
