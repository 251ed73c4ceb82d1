package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/runtime"
	"go.uber.org/zap"
)

type nftTransferArgs struct {
	ReceiverID string  `json:"receiver_id"`
	TokenID    string  `json:"token_id"`
	ApprovalID *uint64 `json:"approval_id,omitempty"`
}

type nftTransferPayoutArgs struct {
	ReceiverID   string       `json:"receiver_id"`
	TokenID      string       `json:"token_id"`
	ApprovalID   *uint64      `json:"approval_id,omitempty"`
	Balance      *uint256.Int `json:"balance"`
	MaxLenPayout uint32       `json:"max_len_payout"`
}

type payoutResponse struct {
	Payout entity.Payout `json:"payout"`
}

func (l *Ledger) nftTransfer(ctx *runtime.Context, raw json.RawMessage) error {
	var args nftTransferArgs
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

	return l.executeTransfer(token, ctx.Predecessor(), args.ReceiverID, args.ApprovalID)
}

// nftTransferPayout atomically transfers the token and returns the payout
// table computed against its pre-transfer royalty and split-owner state.
func (l *Ledger) nftTransferPayout(ctx *runtime.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args nftTransferPayoutArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Balance == nil {
		return nil, fmt.Errorf("balance is required")
	}
	if err := requireOneUnit(ctx); err != nil {
		return nil, err
	}

	token, ok := l.tokens[args.TokenID]
	if !ok {
		return nil, entity.ErrTokenNotFound
	}

	payout := computePayout(token, args.Balance, args.MaxLenPayout)

	if err := l.executeTransfer(token, ctx.Predecessor(), args.ReceiverID, args.ApprovalID); err != nil {
		return nil, err
	}

	return json.Marshal(payoutResponse{Payout: payout})
}

type nftPayoutArgs struct {
	TokenID      string       `json:"token_id"`
	Balance      *uint256.Int `json:"balance"`
	MaxLenPayout uint32       `json:"max_len_payout"`
}

// nftPayout is the read-only counterpart of nftTransferPayout.
func (l *Ledger) nftPayout(raw json.RawMessage) (json.RawMessage, error) {
	var args nftPayoutArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Balance == nil {
		return nil, fmt.Errorf("balance is required")
	}

	token, ok := l.tokens[args.TokenID]
	if !ok {
		return nil, entity.ErrTokenNotFound
	}

	return json.Marshal(payoutResponse{Payout: computePayout(token, args.Balance, args.MaxLenPayout)})
}

// executeTransfer moves ownership after checking the caller is the owner or
// holds a live approval matching the given id. A completed transfer wipes
// all approvals and any split-owner table; the royalty survives.
func (l *Ledger) executeTransfer(token *entity.Token, caller, receiverID string, approvalID *uint64) error {
	if caller != token.OwnerID {
		if approvalID == nil {
			return entity.ErrUnauthorized
		}
		stored, ok := token.Approvals[caller]
		if !ok {
			return entity.ErrNotApproved
		}
		if stored != *approvalID {
			return entity.ErrStaleApproval
		}
	}

	previousOwner := token.OwnerID
	token.OwnerID = receiverID
	token.Approvals = make(map[string]uint64)
	token.SplitOwners = nil

	zap.L().With(
		zap.String("tokenId", token.ID),
		zap.String("from", previousOwner),
		zap.String("to", receiverID),
	).Info("Token transferred")

	l.emitter.Emit(entity.Event{
		Standard: entity.LedgerStandard,
		Version:  entity.LedgerVersion,
		Event:    entity.NftTransferEvent,
		Data: entity.NftTransferData{
			TokenID:    token.ID,
			OldOwnerID: previousOwner,
			NewOwnerID: receiverID,
		},
	})

	return nil
}
