package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/openpredict/marketd/internal/domain"
)

// tradePageSize is how many trades the archiver pulls per page when copying
// a market's trade log into the report.
const tradePageSize = 500

// ReportWriter is the slice of the blob writer the archiver needs.
type ReportWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// TradeLogStore provides read access to a market's trade log for archival.
type TradeLogStore interface {
	ListByMarket(ctx context.Context, marketID uuid.UUID, opts domain.ListOpts) ([]domain.Trade, error)
}

// Archiver implements domain.Archiver by serializing a settlement report to
// JSONL and uploading it. A report carries the resolution summary, every
// payout line, and the market's full trade log in execution order, so the
// settlement can be audited and replayed without touching the primary store.
type Archiver struct {
	writer ReportWriter
	trades TradeLogStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer ReportWriter, trades TradeLogStore) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
	}
}

// ArchiveResolution uploads the settlement report for res and returns the
// object path it was written to.
func (a *Archiver) ArchiveResolution(ctx context.Context, res domain.Resolution) (string, error) {
	buf, err := a.buildReport(ctx, res)
	if err != nil {
		return "", err
	}

	path := reportPath(res)
	if int64(buf.Len()) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, buf, "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: upload settlement report %s: %w", res.ID, err)
	}
	return path, nil
}

// buildReport serializes the report as newline-delimited JSON: one summary
// line, one line per payout, then the trade log.
func (a *Archiver) buildReport(ctx context.Context, res domain.Resolution) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	summary := map[string]any{
		"kind":                 "resolution",
		"resolution_id":        res.ID.String(),
		"market_id":            res.MarketID.String(),
		"winning_outcome":      res.WinningOutcome,
		"policy":               res.Policy,
		"total_pool":           res.TotalPool.String(),
		"total_winning_shares": res.TotalWinningShares.String(),
		"total_winning_cost":   res.TotalWinningCost.String(),
		"resolved_at":          res.ResolvedAt.Format(time.RFC3339Nano),
	}
	if err := enc.Encode(summary); err != nil {
		return nil, fmt.Errorf("s3blob: encode resolution summary: %w", err)
	}

	for i, line := range res.Payouts {
		rec := map[string]any{
			"kind":    "payout",
			"user_id": line.UserID,
			"shares":  line.Shares.String(),
			"cost":    line.Cost.String(),
			"amount":  line.Amount.String(),
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("s3blob: encode payout line %d: %w", i, err)
		}
	}

	for offset := 0; ; offset += tradePageSize {
		page, err := a.trades.ListByMarket(ctx, res.MarketID, domain.ListOpts{Limit: tradePageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("s3blob: list trades for market %s: %w", res.MarketID, err)
		}
		for _, t := range page {
			poolsAfter := make(map[string]string, len(t.PoolsAfter))
			for outcome, pool := range t.PoolsAfter {
				poolsAfter[outcome] = pool.String()
			}
			rec := map[string]any{
				"kind":        "trade",
				"trade_id":    t.ID.String(),
				"user_id":     t.UserID,
				"outcome":     t.Outcome,
				"side":        string(t.Side),
				"tokens":      t.Tokens.String(),
				"shares":      t.Shares.String(),
				"pools_after": poolsAfter,
				"created_at":  t.CreatedAt.Format(time.RFC3339Nano),
			}
			if err := enc.Encode(rec); err != nil {
				return nil, fmt.Errorf("s3blob: encode trade %s: %w", t.ID, err)
			}
		}
		if len(page) < tradePageSize {
			break
		}
	}

	return &buf, nil
}

// reportPath builds the object key for a settlement report, partitioned by
// the year-month the market resolved in.
//
//	settlements/2026-08/6b2f....jsonl
func reportPath(res domain.Resolution) string {
	return fmt.Sprintf("settlements/%s/%s.jsonl", res.ResolvedAt.Format("2006-01"), res.MarketID)
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
