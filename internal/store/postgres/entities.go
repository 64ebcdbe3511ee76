package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gosuda/tether/internal/domain"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

type KeyRepo struct {
	db querier
}

const keyColumns = `id, fingerprint, type, policy_id, agent_id, address, public_key,
	encrypted_private_key, status, expires_at, parent_key_id, derivation_path, created_at`

func (r *KeyRepo) Create(ctx context.Context, k *domain.PolicyBoundKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO keys (`+keyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		k.ID, k.Fingerprint, k.Type, k.PolicyID, k.AgentID, k.Address, k.PublicKey,
		k.EncryptedPrivateKey, k.Status, k.ExpiresAt, k.ParentKeyID, k.DerivationPath, k.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("keyRepo.Create: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("keyRepo.Create: %w", err)
	}
	return nil
}

func scanKey(row pgx.Row) (*domain.PolicyBoundKey, error) {
	var k domain.PolicyBoundKey
	err := row.Scan(
		&k.ID, &k.Fingerprint, &k.Type, &k.PolicyID, &k.AgentID, &k.Address, &k.PublicKey,
		&k.EncryptedPrivateKey, &k.Status, &k.ExpiresAt, &k.ParentKeyID, &k.DerivationPath, &k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *KeyRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PolicyBoundKey, error) {
	k, err := scanKey(r.db.QueryRow(ctx, `SELECT `+keyColumns+` FROM keys WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("keyRepo.GetByID: %w", domain.ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("keyRepo.GetByID: %w", err)
	}
	return k, nil
}

func (r *KeyRepo) List(ctx context.Context, f domain.KeyFilter) ([]*domain.PolicyBoundKey, error) {
	w := keyWhere(f)
	rows, err := r.db.Query(ctx, `SELECT `+keyColumns+` FROM keys`+w.String()+` ORDER BY created_at DESC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("keyRepo.List: %w", err)
	}
	defer rows.Close()

	out := []*domain.PolicyBoundKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("keyRepo.List: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keyRepo.List: %w", err)
	}
	return out, nil
}

func (r *KeyRepo) Update(ctx context.Context, k *domain.PolicyBoundKey) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE keys SET fingerprint = $2, type = $3, policy_id = $4, agent_id = $5, address = $6,
		        public_key = $7, encrypted_private_key = $8, status = $9, expires_at = $10,
		        parent_key_id = $11, derivation_path = $12
		 WHERE id = $1`,
		k.ID, k.Fingerprint, k.Type, k.PolicyID, k.AgentID, k.Address,
		k.PublicKey, k.EncryptedPrivateKey, k.Status, k.ExpiresAt,
		k.ParentKeyID, k.DerivationPath,
	)
	if err != nil {
		return fmt.Errorf("keyRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("keyRepo.Update: %w", domain.ErrKeyNotFound)
	}
	return nil
}

func (r *KeyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("keyRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("keyRepo.Delete: %w", domain.ErrKeyNotFound)
	}
	return nil
}

func (r *KeyRepo) RevokeByPolicy(ctx context.Context, policyID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE keys SET status = $2 WHERE policy_id = $1 AND status = $3`,
		policyID, domain.KeyStatusRevoked, domain.KeyStatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("keyRepo.RevokeByPolicy: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

type AgentRepo struct {
	db querier
}

const agentColumns = `id, name, description, policy_id, key_id, status, capabilities,
	task_scope, success_rate, total_actions, created_at, last_active_at`

func (r *AgentRepo) Create(ctx context.Context, a *domain.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("agentRepo.Create: marshal capabilities: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO agents (`+agentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Name, a.Description, a.PolicyID, a.KeyID, a.Status, caps,
		a.TaskScope, a.SuccessRate, a.TotalActions, a.CreatedAt, a.LastActiveAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("agentRepo.Create: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("agentRepo.Create: %w", err)
	}
	return nil
}

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var a domain.Agent
	var caps []byte
	err := row.Scan(
		&a.ID, &a.Name, &a.Description, &a.PolicyID, &a.KeyID, &a.Status, &caps,
		&a.TaskScope, &a.SuccessRate, &a.TotalActions, &a.CreatedAt, &a.LastActiveAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(caps, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	return &a, nil
}

func (r *AgentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	a, err := scanAgent(r.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agentRepo.GetByID: %w", domain.ErrAgentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("agentRepo.GetByID: %w", err)
	}
	return a, nil
}

func (r *AgentRepo) List(ctx context.Context, f domain.AgentFilter) ([]*domain.Agent, error) {
	w := agentWhere(f)
	rows, err := r.db.Query(ctx, `SELECT `+agentColumns+` FROM agents`+w.String()+` ORDER BY created_at DESC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("agentRepo.List: %w", err)
	}
	defer rows.Close()

	out := []*domain.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("agentRepo.List: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agentRepo.List: %w", err)
	}
	return out, nil
}

func (r *AgentRepo) Update(ctx context.Context, a *domain.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("agentRepo.Update: marshal capabilities: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE agents SET name = $2, description = $3, policy_id = $4, key_id = $5, status = $6,
		        capabilities = $7, task_scope = $8, success_rate = $9, total_actions = $10,
		        last_active_at = $11
		 WHERE id = $1`,
		a.ID, a.Name, a.Description, a.PolicyID, a.KeyID, a.Status,
		caps, a.TaskScope, a.SuccessRate, a.TotalActions, a.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("agentRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agentRepo.Update: %w", domain.ErrAgentNotFound)
	}
	return nil
}

func (r *AgentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("agentRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agentRepo.Delete: %w", domain.ErrAgentNotFound)
	}
	return nil
}

func (r *AgentRepo) RevokeByPolicy(ctx context.Context, policyID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE agents SET status = $2 WHERE policy_id = $1 AND status <> $2`,
		policyID, domain.AgentStatusRevoked,
	)
	if err != nil {
		return 0, fmt.Errorf("agentRepo.RevokeByPolicy: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
