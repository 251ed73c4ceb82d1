package entity

import "github.com/holiman/uint256"

// Event is the standard+version+event-name+data tuple emitted for every
// observable side effect.
type Event struct {
	Standard string      `json:"standard"`
	Version  string      `json:"version"`
	Event    string      `json:"event"`
	Data     interface{} `json:"data"`
}

const (
	LedgerStandard = "nep171"
	LedgerVersion  = "1.0.0"
	MarketStandard = "mb_market"
	MarketVersion  = "0.2.1"
)

const (
	NftMintEvent           = "nft_mint"
	NftBurnEvent           = "nft_burn"
	NftApproveEvent        = "nft_approve"
	NftRevokeEvent         = "nft_revoke"
	NftRevokeAllEvent      = "nft_revoke_all"
	NftTransferEvent       = "nft_transfer"
	NftSetSplitOwnersEvent = "nft_set_split_owners"

	NftListEvent         = "nft_list"
	NftUnlistEvent       = "nft_unlist"
	NftMakeOfferEvent    = "nft_make_offer"
	NftSaleEvent         = "nft_sale"
	UpdateBanlistEvent   = "update_banlist"
	UpdateAffiliateEvent = "update_affiliate"
)

type NftMintData struct {
	TokenID  string   `json:"tokenId"`
	OwnerID  string   `json:"ownerId"`
	MinterID string   `json:"minterId"`
	Royalty  *Royalty `json:"royalty,omitempty"`
}

type NftBurnData struct {
	TokenID string `json:"tokenId"`
	OwnerID string `json:"ownerId"`
}

type NftApproveData struct {
	TokenID    string `json:"tokenId"`
	ApprovalID uint64 `json:"approvalId"`
	AccountID  string `json:"accountId"`
}

type NftRevokeData struct {
	TokenID   string `json:"tokenId"`
	AccountID string `json:"accountId"`
}

type NftRevokeAllData struct {
	TokenID string `json:"tokenId"`
}

type NftTransferData struct {
	TokenID    string `json:"tokenId"`
	OldOwnerID string `json:"oldOwnerId"`
	NewOwnerID string `json:"newOwnerId"`
}

type NftSetSplitOwnersData struct {
	TokenID     string       `json:"tokenId"`
	SplitOwners *SplitOwners `json:"splitOwners"`
}

type NftListData struct {
	Kind       string       `json:"kind"`
	ContractID string       `json:"contractId"`
	TokenID    string       `json:"tokenId"`
	ApprovalID uint64       `json:"approvalId"`
	OwnerID    string       `json:"ownerId"`
	Currency   string       `json:"currency"`
	Price      *uint256.Int `json:"price"`
}

type NftUnlistData struct {
	ContractID string `json:"contractId"`
	TokenID    string `json:"tokenId"`
	ApprovalID uint64 `json:"approvalId"`
}

type NftMakeOfferData struct {
	ContractID      string       `json:"contractId"`
	TokenID         string       `json:"tokenId"`
	ApprovalID      uint64       `json:"approvalId"`
	OffererID       string       `json:"offererId"`
	Currency        string       `json:"currency"`
	Price           *uint256.Int `json:"price"`
	AffiliateID     string       `json:"affiliateId,omitempty"`
	AffiliateAmount *uint256.Int `json:"affiliateAmount,omitempty"`
}

type NftSaleData struct {
	ContractID      string       `json:"contractId"`
	TokenID         string       `json:"tokenId"`
	ApprovalID      uint64       `json:"approvalId"`
	Payout          Payout       `json:"payout"`
	Currency        string       `json:"currency"`
	Price           *uint256.Int `json:"price"`
	AffiliateID     string       `json:"affiliateId,omitempty"`
	AffiliateAmount *uint256.Int `json:"affiliateAmount,omitempty"`
	PlatformAmount  *uint256.Int `json:"platformAmount"`
}

type UpdateBanlistData struct {
	AccountID string `json:"accountId"`
	State     bool   `json:"state"`
}

type UpdateAffiliateData struct {
	AccountID string `json:"accountId"`
	Cut       uint32 `json:"cut,omitempty"`
	State     bool   `json:"state"`
}
