package entity

import (
	"fmt"

	"github.com/gosimple/slug"
	"github.com/holiman/uint256"
)

const keySeparator = "<$>"

// Currency is the payment rail of a listing. An empty FtContractID means the
// native currency attached to calls; otherwise it names the fungible-token
// program whose transfer-and-notify callback pays for the listing.
type Currency struct {
	FtContractID string `json:"ftContractId,omitempty"`
}

func (c Currency) IsNative() bool {
	return c.FtContractID == ""
}

func (c Currency) String() string {
	if c.IsNative() {
		return "native"
	}

	return fmt.Sprintf("ft::%s", c.FtContractID)
}

// Listing is an active sale entry, keyed by (contract, token). The approval
// id is the one observed at listing time and is only re-validated by the
// ledger at settlement.
type Listing struct {
	ContractID   string       `json:"contractId"`
	TokenID      string       `json:"tokenId"`
	OwnerID      string       `json:"ownerId"`
	ApprovalID   uint64       `json:"approvalId"`
	Price        *uint256.Int `json:"price"`
	Currency     Currency     `json:"currency"`
	CreatedAt    int64        `json:"createdAt"`
	CurrentOffer *Offer       `json:"currentOffer,omitempty"`
}

func (l Listing) Key() string {
	return ListingKey(l.ContractID, l.TokenID)
}

func (l Listing) Slug() string {
	return slug.Make(fmt.Sprintf("listing-%s-%s", l.ContractID, l.TokenID))
}

func ListingKey(contractID, tokenID string) string {
	return contractID + keySeparator + tokenID
}

// Offer is the bid currently executing on a listing. It locks the listing up
// until settlement resolves.
type Offer struct {
	OffererID    string       `json:"offererId"`
	Amount       *uint256.Int `json:"amount"`
	AffiliateID  string       `json:"affiliateId,omitempty"`
	AffiliateCut uint32       `json:"affiliateCut,omitempty"`
}

// CreateListingMsg is the payload a token owner attaches to an approval to
// ask for a listing.
type CreateListingMsg struct {
	Price      *uint256.Int `json:"price"`
	FtContract string       `json:"ftContract,omitempty"`
}

// BuyWithTokenMsg is the payload attached to a fungible-token transfer to
// buy a listing through the token payment rail.
type BuyWithTokenMsg struct {
	ContractID  string `json:"contractId"`
	TokenID     string `json:"tokenId"`
	AffiliateID string `json:"affiliateId,omitempty"`
}
