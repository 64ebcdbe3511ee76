package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gosuda/tether/internal/domain"
)

// ---------------------------------------------------------------------------
// Spend records
// ---------------------------------------------------------------------------

type SpendRepo struct {
	db querier
}

// Amounts cross the wire as text so no precision is lost in either direction.
func (r *SpendRepo) Append(ctx context.Context, rec *domain.SpendRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO spend_records (id, policy_id, amount, currency, usd_value, execution_id, ts)
		 VALUES ($1, $2, $3::numeric, $4, $5::numeric, $6, $7)`,
		rec.ID, rec.PolicyID, rec.Amount.String(), rec.Currency, rec.USDValue.String(), rec.ExecutionID, rec.Timestamp,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("spendRepo.Append: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("spendRepo.Append: %w", err)
	}
	return nil
}

func (r *SpendRepo) ListByPolicy(ctx context.Context, policyID uuid.UUID, from, to time.Time) ([]*domain.SpendRecord, error) {
	w := &where{}
	w.add("policy_id = ?", policyID)
	if !from.IsZero() {
		w.add("ts >= ?", from)
	}
	w.add("ts < ?", to)

	rows, err := r.db.Query(ctx,
		`SELECT id, policy_id, amount::text, currency, usd_value::text, execution_id, ts
		 FROM spend_records`+w.String()+` ORDER BY ts`,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("spendRepo.ListByPolicy: %w", err)
	}
	defer rows.Close()

	out := []*domain.SpendRecord{}
	for rows.Next() {
		var (
			rec         domain.SpendRecord
			amount, usd string
		)
		if err := rows.Scan(&rec.ID, &rec.PolicyID, &amount, &rec.Currency, &usd, &rec.ExecutionID, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("spendRepo.ListByPolicy: %w", err)
		}
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("spendRepo.ListByPolicy: amount: %w", err)
		}
		if rec.USDValue, err = decimal.NewFromString(usd); err != nil {
			return nil, fmt.Errorf("spendRepo.ListByPolicy: usd value: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spendRepo.ListByPolicy: %w", err)
	}
	return out, nil
}

func (r *SpendRepo) SumUSD(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	w := &where{}
	if !from.IsZero() {
		w.add("ts >= ?", from)
	}
	w.add("ts < ?", to)

	var total string
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(usd_value), 0)::text FROM spend_records`+w.String(), w.args...,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("spendRepo.SumUSD: %w", err)
	}
	sum, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("spendRepo.SumUSD: %w", err)
	}
	return sum, nil
}

// ---------------------------------------------------------------------------
// Execution logs
// ---------------------------------------------------------------------------

// ExecutionRepo stores each log as a JSONB document next to the columns it is
// filtered on.
type ExecutionRepo struct {
	db querier
}

func (r *ExecutionRepo) Append(ctx context.Context, l *domain.ExecutionLog) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("executionRepo.Append: marshal: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO execution_logs (id, agent_id, policy_id, action_type, result, input_cid, log_cid, tx_hash, ts, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.AgentID, l.PolicyID, l.ActionType, l.Result, l.InputCID, l.LogCID, l.TxHash, l.Timestamp, body,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("executionRepo.Append: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("executionRepo.Append: %w", err)
	}
	return nil
}

func decodeLog(body []byte) (*domain.ExecutionLog, error) {
	var l domain.ExecutionLog
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &l, nil
}

func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExecutionLog, error) {
	var body []byte
	err := r.db.QueryRow(ctx, `SELECT body FROM execution_logs WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("executionRepo.GetByID: %w", domain.ErrExecutionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("executionRepo.GetByID: %w", err)
	}
	l, err := decodeLog(body)
	if err != nil {
		return nil, fmt.Errorf("executionRepo.GetByID: %w", err)
	}
	return l, nil
}

func (r *ExecutionRepo) List(ctx context.Context, f domain.ExecutionFilter) ([]*domain.ExecutionLog, error) {
	w := executionWhere(f)
	query := `SELECT body FROM execution_logs` + w.String() + ` ORDER BY ts DESC, seq DESC`
	query += page(w, f)

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("executionRepo.List: %w", err)
	}
	defer rows.Close()

	out := []*domain.ExecutionLog{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("executionRepo.List: %w", err)
		}
		l, err := decodeLog(body)
		if err != nil {
			return nil, fmt.Errorf("executionRepo.List: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("executionRepo.List: %w", err)
	}
	return out, nil
}
