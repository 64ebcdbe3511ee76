package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gosuda/tether/internal/domain"
)

type PolicyRepo struct {
	db querier
}

func (r *PolicyRepo) Create(ctx context.Context, p *domain.Policy) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("policyRepo.Create: marshal: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`WITH head AS (
		     INSERT INTO policies (id, head_version, created_at) VALUES ($1, $2, $4)
		     ON CONFLICT (id) DO NOTHING
		     RETURNING id
		 )
		 INSERT INTO policy_versions (policy_id, version, body, created_at)
		 SELECT id, $2, $3, $4 FROM head`,
		p.ID, p.Version, body, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("policyRepo.Create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policyRepo.Create: %w", domain.ErrConflict)
	}
	return nil
}

func scanPolicy(row pgx.Row, op string) (*domain.Policy, error) {
	var body []byte
	err := row.Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrPolicyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var p domain.Policy
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%s: unmarshal: %w", op, err)
	}
	return &p, nil
}

func scanPolicies(rows pgx.Rows, op string) ([]*domain.Policy, error) {
	defer rows.Close()
	out := []*domain.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows, op)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (r *PolicyRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Policy, error) {
	return scanPolicy(r.db.QueryRow(ctx,
		`SELECT v.body FROM policies p
		 JOIN policy_versions v ON v.policy_id = p.id AND v.version = p.head_version
		 WHERE p.id = $1 AND p.deleted_at IS NULL`,
		id,
	), "policyRepo.GetByID")
}

// GetVersion ignores deletion so recorded executions stay traceable to the
// version they were evaluated against.
func (r *PolicyRepo) GetVersion(ctx context.Context, id uuid.UUID, version int) (*domain.Policy, error) {
	return scanPolicy(r.db.QueryRow(ctx,
		`SELECT body FROM policy_versions WHERE policy_id = $1 AND version = $2`,
		id, version,
	), "policyRepo.GetVersion")
}

func (r *PolicyRepo) ListVersions(ctx context.Context, id uuid.UUID) ([]*domain.Policy, error) {
	rows, err := r.db.Query(ctx,
		`SELECT body FROM policy_versions WHERE policy_id = $1 ORDER BY version`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("policyRepo.ListVersions: %w", err)
	}
	out, err := scanPolicies(rows, "policyRepo.ListVersions")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("policyRepo.ListVersions: %w", domain.ErrPolicyNotFound)
	}
	return out, nil
}

func (r *PolicyRepo) List(ctx context.Context) ([]*domain.Policy, error) {
	rows, err := r.db.Query(ctx,
		`SELECT v.body FROM policies p
		 JOIN policy_versions v ON v.policy_id = p.id AND v.version = p.head_version
		 WHERE p.deleted_at IS NULL
		 ORDER BY p.created_at DESC, p.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("policyRepo.List: %w", err)
	}
	return scanPolicies(rows, "policyRepo.List")
}

// Update appends p only when it directly follows the stored head.
func (r *PolicyRepo) Update(ctx context.Context, p *domain.Policy) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("policyRepo.Update: marshal: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`WITH head AS (
		     UPDATE policies SET head_version = $2
		     WHERE id = $1 AND deleted_at IS NULL AND head_version = $2 - 1
		     RETURNING id
		 )
		 INSERT INTO policy_versions (policy_id, version, body, created_at)
		 SELECT id, $2, $3, $4 FROM head`,
		p.ID, p.Version, body, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("policyRepo.Update: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var head int
	err = r.db.QueryRow(ctx,
		`SELECT head_version FROM policies WHERE id = $1 AND deleted_at IS NULL`, p.ID,
	).Scan(&head)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("policyRepo.Update: %w", domain.ErrPolicyNotFound)
	}
	if err != nil {
		return fmt.Errorf("policyRepo.Update: %w", err)
	}
	return fmt.Errorf("policyRepo.Update: version %d after head %d: %w", p.Version, head, domain.ErrConflict)
}

func (r *PolicyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE policies SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("policyRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policyRepo.Delete: %w", domain.ErrPolicyNotFound)
	}
	return nil
}
