// Package recorder keeps the append-only audit trail of evaluation decisions.
package recorder

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/cid"
	"github.com/gosuda/tether/internal/domain"
)

// SignFunc signs a log's content identifier.
type SignFunc func(logCID string) (string, error)

type Recorder struct {
	repo domain.ExecutionRepository
}

// New binds a recorder to repo, which may be scoped to a transaction.
func New(repo domain.ExecutionRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Append assigns l a fresh id and its content identifiers, signs successful
// logs when sign is non-nil, and stores it. A signing failure turns the
// result into failed. The stored log is never modified afterwards.
func (r *Recorder) Append(ctx context.Context, l *domain.ExecutionLog, p *domain.Policy, sign SignFunc) error {
	l.ID = uuid.New()
	if l.Inputs == nil {
		l.Inputs = map[string]any{}
	}

	if err := identify(l, p); err != nil {
		return fmt.Errorf("recorder.Append: %w", err)
	}

	if sign != nil && l.Result == domain.ResultSuccess {
		sig, err := sign(l.LogCID)
		if err != nil {
			l.Result = domain.ResultFailed
			l.DenialReason = "signing failed: " + err.Error()
			l.Outputs = nil
			if err := identify(l, p); err != nil {
				return fmt.Errorf("recorder.Append: %w", err)
			}
		} else {
			l.Signature = sig
		}
	}

	if err := r.repo.Append(ctx, l); err != nil {
		return fmt.Errorf("recorder.Append: %w", err)
	}
	return nil
}

// Query returns matching logs newest first.
func (r *Recorder) Query(ctx context.Context, f domain.ExecutionFilter) ([]*domain.ExecutionLog, error) {
	logs, err := r.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("recorder.Query: %w", err)
	}
	return logs, nil
}

type inputPayload struct {
	ActionType domain.ActionType     `json:"actionType"`
	Action     domain.ProposedAction `json:"action"`
	Inputs     map[string]any        `json:"inputs"`
}

// logPayload is everything in a log except its own identifier and signature.
type logPayload struct {
	ID               uuid.UUID                `json:"id"`
	AgentID          uuid.UUID                `json:"agentId"`
	PolicyID         uuid.UUID                `json:"policyId"`
	KeyID            uuid.UUID                `json:"keyId"`
	PolicyVersion    int                      `json:"policyVersion"`
	InputCID         string                   `json:"inputCID"`
	OutputCID        string                   `json:"outputCID,omitempty"`
	PolicyCID        string                   `json:"policyCID"`
	Result           domain.ExecutionResult   `json:"result"`
	DenialReason     string                   `json:"denialReason,omitempty"`
	Timestamp        int64                    `json:"timestamp"`
	PolicyEvaluation *domain.PolicyEvaluation `json:"policyEvaluation,omitempty"`
	ReplayOf         *uuid.UUID               `json:"replayOf,omitempty"`
}

func identify(l *domain.ExecutionLog, p *domain.Policy) error {
	var err error
	if l.InputCID, err = cid.Of(inputPayload{ActionType: l.ActionType, Action: l.Action, Inputs: l.Inputs}); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if l.PolicyCID, err = cid.Of(p); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	l.OutputCID = ""
	if l.Outputs != nil {
		if l.OutputCID, err = cid.Of(l.Outputs); err != nil {
			return fmt.Errorf("output: %w", err)
		}
	}
	l.LogCID, err = cid.Of(logPayload{
		ID:               l.ID,
		AgentID:          l.AgentID,
		PolicyID:         l.PolicyID,
		KeyID:            l.KeyID,
		PolicyVersion:    l.PolicyVersion,
		InputCID:         l.InputCID,
		OutputCID:        l.OutputCID,
		PolicyCID:        l.PolicyCID,
		Result:           l.Result,
		DenialReason:     l.DenialReason,
		Timestamp:        l.Timestamp.UnixNano(),
		PolicyEvaluation: l.PolicyEvaluation,
		ReplayOf:         l.ReplayOf,
	})
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}
