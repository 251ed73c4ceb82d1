package market

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/runtime"
	"go.uber.org/zap"
)

const maxTokenIDLength = 128

type onApproveArgs struct {
	TokenID    string          `json:"token_id"`
	OwnerID    string          `json:"owner_id"`
	ApprovalID uint64          `json:"approval_id"`
	Msg        json.RawMessage `json:"msg"`
}

// onApprove turns a ledger approval notification into a listing. The caller
// is the ledger program itself, so its account id is the listing's contract
// id. Failing here leaves the approval standing on the ledger; the lister
// can re-approve once the problem is fixed.
func (m *Market) onApprove(ctx *runtime.Context, raw json.RawMessage) error {
	var args onApproveArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}

	contractID := ctx.Predecessor()
	if m.banned[contractID] || m.banned[args.OwnerID] {
		return entity.ErrBanned
	}
	if len(args.TokenID) > maxTokenIDLength {
		return fmt.Errorf("token id exceeds %d bytes", maxTokenIDLength)
	}

	var msg entity.CreateListingMsg
	if err := json.Unmarshal(args.Msg, &msg); err != nil {
		return err
	}
	if msg.Price == nil || msg.Price.IsZero() {
		return fmt.Errorf("listing price cannot be zero")
	}
	currency := entity.Currency{FtContractID: msg.FtContract}
	if m.banned[currency.FtContractID] {
		return entity.ErrBanned
	}

	key := entity.ListingKey(contractID, args.TokenID)
	existing, replacing := m.listings[key]
	if replacing && existing.CurrentOffer != nil {
		return entity.ErrOfferInProgress
	}

	// A replacement reuses the storage already locked by the old listing.
	if !replacing {
		deposit := m.storageDeposit(args.OwnerID)
		locked := m.storageLocked(args.OwnerID)
		if new(uint256.Int).Sub(deposit, locked).Lt(m.listingStorageFee) {
			return entity.ErrInsufficientDeposit
		}
	}

	listing := &entity.Listing{
		ContractID: contractID,
		TokenID:    args.TokenID,
		OwnerID:    args.OwnerID,
		ApprovalID: args.ApprovalID,
		Price:      msg.Price,
		Currency:   currency,
		CreatedAt:  ctx.BlockTime().Unix(),
	}

	if replacing {
		m.emitter.Emit(entity.Event{
			Standard: entity.MarketStandard,
			Version:  entity.MarketVersion,
			Event:    entity.NftUnlistEvent,
			Data: entity.NftUnlistData{
				ContractID: existing.ContractID,
				TokenID:    existing.TokenID,
				ApprovalID: existing.ApprovalID,
			},
		})
	} else {
		m.listingCounts[args.OwnerID]++
	}
	m.listings[key] = listing

	zap.L().With(
		zap.String("contract", contractID),
		zap.String("tokenId", args.TokenID),
		zap.String("owner", args.OwnerID),
		zap.String("price", listing.Price.Dec()),
		zap.String("currency", currency.String()),
	).Info("Listing created")

	m.emitter.Emit(entity.Event{
		Standard: entity.MarketStandard,
		Version:  entity.MarketVersion,
		Event:    entity.NftListEvent,
		Data: entity.NftListData{
			Kind:       "simple",
			ContractID: contractID,
			TokenID:    args.TokenID,
			ApprovalID: args.ApprovalID,
			OwnerID:    args.OwnerID,
			Currency:   currency.String(),
			Price:      listing.Price,
		},
	})

	return nil
}

type unlistArgs struct {
	ContractID string   `json:"contract_id"`
	TokenIDs   []string `json:"token_ids"`
}

// unlist removes the caller's listings. Listings stay locked for the
// configured window after creation so a buy racing the unlist cannot be
// rug-pulled mid-settlement.
func (m *Market) unlist(ctx *runtime.Context, raw json.RawMessage) error {
	var args unlistArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := requireOneUnit(ctx); err != nil {
		return err
	}

	now := ctx.BlockTime().Unix()
	for _, tokenID := range args.TokenIDs {
		listing, ok := m.listings[entity.ListingKey(args.ContractID, tokenID)]
		if !ok {
			return entity.ErrListingNotFound
		}
		if ctx.Predecessor() != listing.OwnerID {
			return entity.ErrUnauthorized
		}
		if listing.CurrentOffer != nil {
			return entity.ErrOfferInProgress
		}
		if now < listing.CreatedAt+m.lockSeconds {
			return entity.ErrListingLocked
		}
	}

	for _, tokenID := range args.TokenIDs {
		listing := m.listings[entity.ListingKey(args.ContractID, tokenID)]
		m.deleteListing(args.ContractID, tokenID)

		m.emitter.Emit(entity.Event{
			Standard: entity.MarketStandard,
			Version:  entity.MarketVersion,
			Event:    entity.NftUnlistEvent,
			Data: entity.NftUnlistData{
				ContractID: args.ContractID,
				TokenID:    tokenID,
				ApprovalID: listing.ApprovalID,
			},
		})
	}

	return nil
}

type removeOfferArgs struct {
	ContractID string `json:"contract_id"`
	TokenID    string `json:"token_id"`
}

// removeOffer is the market owner's escape hatch for an offer whose
// settlement callback never landed. The offerer gets their funds back and
// the listing unlocks.
func (m *Market) removeOffer(ctx *runtime.Context, raw json.RawMessage) error {
	var args removeOfferArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := m.requireOwner(ctx); err != nil {
		return err
	}

	listing, ok := m.listings[entity.ListingKey(args.ContractID, args.TokenID)]
	if !ok {
		return entity.ErrListingNotFound
	}
	offer := listing.CurrentOffer
	if offer == nil {
		return nil
	}

	listing.CurrentOffer = nil
	if listing.Currency.IsNative() {
		ctx.Transfer(offer.OffererID, offer.Amount)
	} else {
		_, err := ctx.Call(listing.Currency.FtContractID, "ft_transfer", ftTransferArgs{
			ReceiverID: offer.OffererID,
			Amount:     offer.Amount,
		}, nil)
		if err != nil {
			return err
		}
	}

	zap.L().With(
		zap.String("contract", args.ContractID),
		zap.String("tokenId", args.TokenID),
		zap.String("offerer", offer.OffererID),
	).Warn("Stuck offer removed")

	return nil
}

type getListingArgs struct {
	ContractID string `json:"contract_id"`
	TokenID    string `json:"token_id"`
}

func (m *Market) getListing(raw json.RawMessage) (json.RawMessage, error) {
	var args getListingArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	listing, ok := m.listings[entity.ListingKey(args.ContractID, args.TokenID)]
	if !ok {
		return nil, entity.ErrListingNotFound
	}

	return json.Marshal(listing)
}

// deleteListing drops a listing and releases its storage hold.
func (m *Market) deleteListing(contractID, tokenID string) {
	key := entity.ListingKey(contractID, tokenID)
	listing, ok := m.listings[key]
	if !ok {
		return
	}

	delete(m.listings, key)
	if m.listingCounts[listing.OwnerID] > 0 {
		m.listingCounts[listing.OwnerID]--
	}
}
