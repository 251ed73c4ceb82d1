package ledger

import (
	"encoding/json"

	"github.com/holiman/uint256"
	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/runtime"
	"go.uber.org/zap"
)

type nftApproveArgs struct {
	TokenID   string          `json:"token_id"`
	AccountID string          `json:"account_id"`
	Msg       json.RawMessage `json:"msg,omitempty"`
}

type nftApproveResponse struct {
	ApprovalID uint64 `json:"approval_id"`
}

type onApproveArgs struct {
	TokenID    string          `json:"token_id"`
	OwnerID    string          `json:"owner_id"`
	ApprovalID uint64          `json:"approval_id"`
	Msg        json.RawMessage `json:"msg"`
}

// nftApprove grants the given account a transfer approval on the token and
// assigns it the next id from the token's counter. Re-approving the same
// account replaces the old entry under a fresh id, invalidating the old one.
func (l *Ledger) nftApprove(ctx *runtime.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args nftApproveArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	token, ok := l.tokens[args.TokenID]
	if !ok {
		return nil, entity.ErrTokenNotFound
	}
	if ctx.Predecessor() != token.OwnerID {
		return nil, entity.ErrUnauthorized
	}
	if ctx.AttachedDeposit().Lt(l.storageCost) {
		return nil, entity.ErrInsufficientDeposit
	}

	approvalID := token.NextApprovalID
	token.NextApprovalID++
	token.Approvals[args.AccountID] = approvalID

	zap.L().With(
		zap.String("tokenId", token.ID),
		zap.String("account", args.AccountID),
		zap.Uint64("approvalId", approvalID),
	).Info("Approval granted")

	l.emitter.Emit(entity.Event{
		Standard: entity.LedgerStandard,
		Version:  entity.LedgerVersion,
		Event:    entity.NftApproveEvent,
		Data: entity.NftApproveData{
			TokenID:    token.ID,
			ApprovalID: approvalID,
			AccountID:  args.AccountID,
		},
	})

	if len(args.Msg) != 0 {
		// Fire-and-forget notification. The approval stands even if the
		// receiver rejects it.
		_, err := ctx.Call(args.AccountID, "on_approve", onApproveArgs{
			TokenID:    token.ID,
			OwnerID:    token.OwnerID,
			ApprovalID: approvalID,
			Msg:        args.Msg,
		}, uint256.NewInt(0))
		if err != nil {
			return nil, err
		}
	}

	return json.Marshal(nftApproveResponse{ApprovalID: approvalID})
}

type nftRevokeArgs struct {
	TokenID   string `json:"token_id"`
	AccountID string `json:"account_id"`
}

func (l *Ledger) nftRevoke(ctx *runtime.Context, raw json.RawMessage) error {
	var args nftRevokeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := requireOneUnit(ctx); err != nil {
		return err
	}

	token, ok := l.tokens[args.TokenID]
	if !ok {
		return entity.ErrTokenNotFound
	}
	if ctx.Predecessor() != token.OwnerID {
		return entity.ErrUnauthorized
	}

	if _, ok := token.Approvals[args.AccountID]; !ok {
		return nil
	}

	delete(token.Approvals, args.AccountID)
	ctx.Transfer(token.OwnerID, l.storageCost)

	l.emitter.Emit(entity.Event{
		Standard: entity.LedgerStandard,
		Version:  entity.LedgerVersion,
		Event:    entity.NftRevokeEvent,
		Data: entity.NftRevokeData{
			TokenID:   token.ID,
			AccountID: args.AccountID,
		},
	})

	return nil
}

type nftRevokeAllArgs struct {
	TokenID string `json:"token_id"`
}

func (l *Ledger) nftRevokeAll(ctx *runtime.Context, raw json.RawMessage) error {
	var args nftRevokeAllArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := requireOneUnit(ctx); err != nil {
		return err
	}

	token, ok := l.tokens[args.TokenID]
	if !ok {
		return entity.ErrTokenNotFound
	}
	if ctx.Predecessor() != token.OwnerID {
		return entity.ErrUnauthorized
	}

	if len(token.Approvals) == 0 {
		return nil
	}

	refund := new(uint256.Int).Mul(l.storageCost, uint256.NewInt(uint64(len(token.Approvals))))
	token.Approvals = make(map[string]uint64)
	ctx.Transfer(token.OwnerID, refund)

	l.emitter.Emit(entity.Event{
		Standard: entity.LedgerStandard,
		Version:  entity.LedgerVersion,
		Event:    entity.NftRevokeAllEvent,
		Data:     entity.NftRevokeAllData{TokenID: token.ID},
	})

	return nil
}
