package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/engine"
	"github.com/gosuda/tether/internal/keys"
)

// KeyBindings are the references shared by registration and generation.
type KeyBindings struct {
	Type           domain.KeyType `json:"type" enum:"root,child,agent" doc:"Key role"`
	PolicyID       *uuid.UUID     `json:"policyId,omitempty" doc:"Bound policy"`
	AgentID        *uuid.UUID     `json:"agentId,omitempty" doc:"Agent using the key"`
	ParentKeyID    *uuid.UUID     `json:"parentKeyId,omitempty" doc:"Parent of a child key"`
	DerivationPath string         `json:"derivationPath,omitempty" doc:"Derivation path of a child key"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty" doc:"Expiry instant"`
}

type RegisterKeyInput struct {
	Body struct {
		KeyBindings
		PublicKey string `json:"publicKey" minLength:"1" doc:"Hex-encoded secp256k1 public key"`
	}
}

type GenerateKeyInput struct {
	Body KeyBindings
}

type KeyOutput struct {
	Body *domain.PolicyBoundKey
}

type ListKeysInput struct {
	Status   string    `query:"status" enum:"active,revoked,expired" doc:"Filter by status"`
	Type     string    `query:"type" enum:"root,child,agent" doc:"Filter by key type"`
	PolicyID uuid.UUID `query:"policyId" doc:"Filter by bound policy"`
	Search   string    `query:"search" doc:"Match fingerprint or address"`
}

type ListKeysOutput struct {
	Body []*domain.PolicyBoundKey
}

type KeyIDInput struct {
	ID uuid.UUID `path:"id" doc:"Key ID"`
}

type PatchKeyInput struct {
	ID   uuid.UUID `path:"id" doc:"Key ID"`
	Body struct {
		PolicyID    *uuid.UUID        `json:"policyId,omitempty" doc:"Rebind to a policy"`
		AgentID     *uuid.UUID        `json:"agentId,omitempty" doc:"Reassign to an agent"`
		ExpiresAt   *time.Time        `json:"expiresAt,omitempty" doc:"New expiry instant"`
		ClearExpiry bool              `json:"clearExpiry,omitempty" doc:"Remove the expiry"`
		Status      *domain.KeyStatus `json:"status,omitempty" enum:"active,revoked,expired" doc:"New status"`
	}
}

func RegisterKeyRoutes(api huma.API, store DataStore, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List policy-bound keys",
		Tags:        []string{"Keys"},
	}, func(ctx context.Context, input *ListKeysInput) (*ListKeysOutput, error) {
		f := domain.KeyFilter{
			Status: domain.KeyStatus(input.Status),
			Type:   domain.KeyType(input.Type),
			Search: input.Search,
		}
		if input.PolicyID != uuid.Nil {
			f.PolicyID = &input.PolicyID
		}
		list, err := store.Repos().Keys.List(ctx, f)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list keys", err)
		}
		if list == nil {
			list = []*domain.PolicyBoundKey{}
		}
		return &ListKeysOutput{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-key",
		Method:      http.MethodGet,
		Path:        "/keys/{id}",
		Summary:     "Get a key by ID",
		Tags:        []string{"Keys"},
	}, func(ctx context.Context, input *KeyIDInput) (*KeyOutput, error) {
		k, err := store.Repos().Keys.GetByID(ctx, input.ID)
		if err != nil {
			return nil, apiError(err, "key")
		}
		return &KeyOutput{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Register a watch-only key from its public key",
		Tags:          []string{"Keys"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *RegisterKeyInput) (*KeyOutput, error) {
		b := input.Body
		k, err := svc.RegisterKey(ctx, engine.KeyRegistration{
			Type:           b.Type,
			PublicKey:      b.PublicKey,
			PolicyID:       b.PolicyID,
			AgentID:        b.AgentID,
			ParentKeyID:    b.ParentKeyID,
			DerivationPath: b.DerivationPath,
			ExpiresAt:      b.ExpiresAt,
		})
		if err != nil {
			return nil, apiError(err, "key")
		}
		return &KeyOutput{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-key",
		Method:        http.MethodPost,
		Path:          "/keys/generate",
		Summary:       "Generate a key pair",
		Description:   "The private key is sealed in the vault when one is configured; otherwise the key is watch-only.",
		Tags:          []string{"Keys"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *GenerateKeyInput) (*KeyOutput, error) {
		b := input.Body
		k, err := svc.GenerateKey(ctx, keys.GenerateRequest{
			Type:           b.Type,
			PolicyID:       b.PolicyID,
			AgentID:        b.AgentID,
			ParentKeyID:    b.ParentKeyID,
			DerivationPath: b.DerivationPath,
			ExpiresAt:      b.ExpiresAt,
		})
		if err != nil {
			return nil, apiError(err, "key")
		}
		return &KeyOutput{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-key",
		Method:      http.MethodPatch,
		Path:        "/keys/{id}",
		Summary:     "Update a key's bindings, expiry or status",
		Tags:        []string{"Keys"},
	}, func(ctx context.Context, input *PatchKeyInput) (*KeyOutput, error) {
		b := input.Body
		k, err := svc.UpdateKey(ctx, input.ID, engine.KeyPatch{
			PolicyID:    b.PolicyID,
			AgentID:     b.AgentID,
			ExpiresAt:   b.ExpiresAt,
			ClearExpiry: b.ClearExpiry,
			Status:      b.Status,
		})
		if err != nil {
			return nil, apiError(err, "key")
		}
		return &KeyOutput{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-key",
		Method:      http.MethodPost,
		Path:        "/keys/{id}/revoke",
		Summary:     "Revoke a key",
		Tags:        []string{"Keys"},
	}, func(ctx context.Context, input *KeyIDInput) (*KeyOutput, error) {
		k, err := svc.RevokeKey(ctx, input.ID)
		if err != nil {
			return nil, apiError(err, "key")
		}
		return &KeyOutput{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-key",
		Method:        http.MethodDelete,
		Path:          "/keys/{id}",
		Summary:       "Delete a key",
		Tags:          []string{"Keys"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *KeyIDInput) (*struct{}, error) {
		if err := svc.DeleteKey(ctx, input.ID); err != nil {
			return nil, apiError(err, "key")
		}
		return nil, nil
	})
}
