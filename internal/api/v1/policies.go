package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/engine"
	"github.com/gosuda/tether/internal/ledger"
	"github.com/gosuda/tether/internal/policy"
)

type PolicyBody struct {
	Name        string                          `json:"name" minLength:"1" maxLength:"255" doc:"Policy name"`
	Description string                          `json:"description,omitempty" doc:"Free-form description"`
	Spend       *domain.SpendLimit              `json:"spend,omitempty" doc:"Spend limit over a rolling window"`
	Contracts   []domain.ContractAllowlistEntry `json:"contracts,omitempty" doc:"Contract allowlist; empty allows any target"`
	Conditions  []domain.PolicyCondition        `json:"conditions,omitempty" doc:"Conditions that must all hold"`
	ExpiresAt   *time.Time                      `json:"expiresAt,omitempty" doc:"Expiry instant"`
	RevokeOn    []domain.RevocationTrigger      `json:"revokeOn,omitempty" doc:"Events that revoke the policy"`
}

type CreatePolicyInput struct {
	Body PolicyBody
}

type PolicyOutput struct {
	Body *domain.Policy
}

type ListPoliciesInput struct {
	Status string `query:"status" enum:"active,expired,violated,revoked" doc:"Filter by status"`
}

type ListPoliciesOutput struct {
	Body []*domain.Policy
}

type PolicyIDInput struct {
	ID uuid.UUID `path:"id" doc:"Policy ID"`
}

type GetPolicyVersionInput struct {
	ID      uuid.UUID `path:"id" doc:"Policy ID"`
	Version int       `path:"version" minimum:"1" doc:"Policy version"`
}

type PatchPolicyInput struct {
	ID   uuid.UUID `path:"id" doc:"Policy ID"`
	Body struct {
		Name        *string                         `json:"name,omitempty" minLength:"1" maxLength:"255" doc:"Policy name"`
		Description *string                         `json:"description,omitempty" doc:"Free-form description"`
		Spend       *domain.SpendLimit              `json:"spend,omitempty" doc:"Replacement spend limit"`
		ClearSpend  bool                            `json:"clearSpend,omitempty" doc:"Remove the spend limit"`
		Contracts   []domain.ContractAllowlistEntry `json:"contracts,omitempty" doc:"Replacement allowlist"`
		Conditions  []domain.PolicyCondition        `json:"conditions,omitempty" doc:"Replacement conditions"`
		ExpiresAt   *time.Time                      `json:"expiresAt,omitempty" doc:"New expiry instant"`
		ClearExpiry bool                            `json:"clearExpiry,omitempty" doc:"Remove the expiry"`
		RevokeOn    []domain.RevocationTrigger      `json:"revokeOn,omitempty" doc:"Replacement revocation triggers"`
	}
}

type RevokePolicyOutput struct {
	Body struct {
		Policy        *domain.Policy `json:"policy"`
		Changed       bool           `json:"changed"`
		KeysRevoked   int            `json:"keysRevoked"`
		AgentsRevoked int            `json:"agentsRevoked"`
	}
}

// ActionBody is a proposed action as sent by clients. Amounts are decimal
// strings.
type ActionBody struct {
	Target       string               `json:"target" doc:"Target contract address"`
	Selector     string               `json:"selector" doc:"Function name"`
	Amount       decimal.Decimal      `json:"amount" doc:"Amount as a decimal string"`
	Currency     domain.Currency      `json:"currency" doc:"Amount currency"`
	Observations *domain.Observations `json:"observations,omitempty" doc:"Oracle, block and balance values observed by the caller"`
}

func (b ActionBody) action() domain.ProposedAction {
	a := domain.ProposedAction{
		Target:   b.Target,
		Selector: b.Selector,
		Amount:   b.Amount,
		Currency: b.Currency,
	}
	if b.Observations != nil {
		a.Observations = *b.Observations
	}
	return a
}

type EvaluatePolicyInput struct {
	ID   uuid.UUID `path:"id" doc:"Policy ID"`
	Body ActionBody
}

type Evaluation struct {
	Permitted bool                    `json:"permitted"`
	Result    domain.ExecutionResult  `json:"result"`
	Reason    string                  `json:"reason,omitempty"`
	Cause     policy.Cause            `json:"cause,omitempty"`
	Checks    domain.PolicyEvaluation `json:"checks"`
	Spent     decimal.Decimal         `json:"spentInWindow"`
}

type EvaluatePolicyOutput struct {
	Body Evaluation
}

type SpendUsageOutput struct {
	Body *ledger.Usage
}

func RegisterPolicyRoutes(api huma.API, store DataStore, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-policy",
		Method:        http.MethodPost,
		Path:          "/policies",
		Summary:       "Create a policy",
		Tags:          []string{"Policies"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreatePolicyInput) (*PolicyOutput, error) {
		b := input.Body
		p, err := svc.CreatePolicy(ctx, &domain.Policy{
			Name:        b.Name,
			Description: b.Description,
			Spend:       b.Spend,
			Contracts:   b.Contracts,
			Conditions:  b.Conditions,
			ExpiresAt:   b.ExpiresAt,
			RevokeOn:    b.RevokeOn,
		})
		if err != nil {
			return nil, apiError(err, "policy")
		}
		return &PolicyOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-policies",
		Method:      http.MethodGet,
		Path:        "/policies",
		Summary:     "List policies",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *ListPoliciesInput) (*ListPoliciesOutput, error) {
		policies, err := store.Repos().Policies.List(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list policies", err)
		}
		out := make([]*domain.Policy, 0, len(policies))
		for _, p := range policies {
			if input.Status == "" || string(p.Status) == input.Status {
				out = append(out, p)
			}
		}
		return &ListPoliciesOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-policy",
		Method:      http.MethodGet,
		Path:        "/policies/{id}",
		Summary:     "Get the current version of a policy",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *PolicyIDInput) (*PolicyOutput, error) {
		p, err := store.Repos().Policies.GetByID(ctx, input.ID)
		if err != nil {
			return nil, apiError(err, "policy")
		}
		return &PolicyOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-policy",
		Method:      http.MethodPatch,
		Path:        "/policies/{id}",
		Summary:     "Update a policy by appending a new version",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *PatchPolicyInput) (*PolicyOutput, error) {
		b := input.Body
		patch := engine.PolicyPatch{
			Name:        b.Name,
			Description: b.Description,
			Spend:       b.Spend,
			ClearSpend:  b.ClearSpend,
			ExpiresAt:   b.ExpiresAt,
			ClearExpiry: b.ClearExpiry,
		}
		if b.Contracts != nil {
			patch.Contracts = &b.Contracts
		}
		if b.Conditions != nil {
			patch.Conditions = &b.Conditions
		}
		if b.RevokeOn != nil {
			patch.RevokeOn = &b.RevokeOn
		}

		p, err := svc.UpdatePolicy(ctx, input.ID, patch)
		if err != nil {
			return nil, apiError(err, "policy")
		}
		return &PolicyOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-policy",
		Method:        http.MethodDelete,
		Path:          "/policies/{id}",
		Summary:       "Delete a policy and revoke its keys and agents",
		Tags:          []string{"Policies"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *PolicyIDInput) (*struct{}, error) {
		if err := svc.DeletePolicy(ctx, input.ID); err != nil {
			return nil, apiError(err, "policy")
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-policy-versions",
		Method:      http.MethodGet,
		Path:        "/policies/{id}/versions",
		Summary:     "List every version of a policy, oldest first",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *PolicyIDInput) (*ListPoliciesOutput, error) {
		versions, err := store.Repos().Policies.ListVersions(ctx, input.ID)
		if err != nil {
			return nil, apiError(err, "policy")
		}
		return &ListPoliciesOutput{Body: versions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-policy-version",
		Method:      http.MethodGet,
		Path:        "/policies/{id}/versions/{version}",
		Summary:     "Get one version of a policy",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *GetPolicyVersionInput) (*PolicyOutput, error) {
		p, err := store.Repos().Policies.GetVersion(ctx, input.ID, input.Version)
		if err != nil {
			return nil, apiError(err, "policy version")
		}
		return &PolicyOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-policy",
		Method:      http.MethodPost,
		Path:        "/policies/{id}/revoke",
		Summary:     "Revoke a policy and everything bound to it",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *PolicyIDInput) (*RevokePolicyOutput, error) {
		outcome, err := svc.Revoke(ctx, input.ID)
		if err != nil {
			return nil, apiError(err, "policy")
		}
		out := &RevokePolicyOutput{}
		out.Body.Policy = outcome.Policy
		out.Body.Changed = outcome.Changed
		out.Body.KeysRevoked = outcome.KeysRevoked
		out.Body.AgentsRevoked = outcome.AgentsRevoked
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-policy",
		Method:      http.MethodPost,
		Path:        "/policies/{id}/evaluate",
		Summary:     "Preview the decision for an action without recording it",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *EvaluatePolicyInput) (*EvaluatePolicyOutput, error) {
		d, err := svc.Preview(ctx, input.ID, input.Body.action())
		if err != nil {
			return nil, apiError(err, "action")
		}
		return &EvaluatePolicyOutput{Body: Evaluation{
			Permitted: d.Permitted(),
			Result:    d.Result,
			Reason:    d.Reason,
			Cause:     d.Cause,
			Checks:    d.Checks,
			Spent:     d.Spent,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-policy-spend",
		Method:      http.MethodGet,
		Path:        "/policies/{id}/spend",
		Summary:     "Report spend in the policy's current window",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *PolicyIDInput) (*SpendUsageOutput, error) {
		u, err := svc.SpendUsage(ctx, input.ID)
		if err != nil {
			return nil, apiError(err, "policy")
		}
		return &SpendUsageOutput{Body: u}, nil
	})
}
