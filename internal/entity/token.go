package entity

import (
	"fmt"
	"sort"

	"github.com/gosimple/slug"
)

// Token is an NFT record as held by the ledger. Approval ids are monotonic
// per token and are never reused, even across revocations.
type Token struct {
	ID             string            `json:"tokenId"`
	OwnerID        string            `json:"ownerId"`
	MinterID       string            `json:"minterId"`
	Approvals      map[string]uint64 `json:"approvals"`
	NextApprovalID uint64            `json:"nextApprovalId"`
	Royalty        *Royalty          `json:"royalty,omitempty"`
	SplitOwners    *SplitOwners      `json:"splitOwners,omitempty"`
}

func (t Token) Slug() string {
	return slug.Make(fmt.Sprintf("token-%s", t.ID))
}

// Royalty is a permanent share of every sale of a token. The percentage is
// taken off the sale balance and distributed between the recipients, whose
// numerators sum to FractionDenominator.
type Royalty struct {
	SplitBetween map[string]Fraction `json:"splitBetween"`
	Percentage   Fraction            `json:"percentage"`
}

func NewRoyalty(splitBetween map[string]uint32, percentage uint32) (*Royalty, error) {
	if percentage == 0 {
		return nil, fmt.Errorf("royalty percentage cannot be zero")
	}
	if percentage > RoyaltyUpperLimit {
		return nil, fmt.Errorf("royalties must not exceed 50%% of a sale")
	}
	if len(splitBetween) == 0 {
		return nil, fmt.Errorf("royalty mapping may not be empty")
	}

	split, err := parseSplit(splitBetween)
	if err != nil {
		return nil, err
	}

	return &Royalty{SplitBetween: split, Percentage: Fraction{Numerator: percentage}}, nil
}

// SplitOwners replaces the owner as the recipient of the non-royalty
// remainder of a sale. It is cleared on every transfer of the token.
type SplitOwners struct {
	SplitBetween map[string]Fraction `json:"splitBetween"`
}

func NewSplitOwners(splitBetween map[string]uint32) (*SplitOwners, error) {
	if len(splitBetween) < 2 {
		return nil, fmt.Errorf("requires at least two accounts to split revenue")
	}

	split, err := parseSplit(splitBetween)
	if err != nil {
		return nil, err
	}

	return &SplitOwners{SplitBetween: split}, nil
}

func parseSplit(splitBetween map[string]uint32) (map[string]Fraction, error) {
	split := make(map[string]Fraction, len(splitBetween))

	var sum uint32
	for account, numerator := range splitBetween {
		if account == "" {
			return nil, fmt.Errorf("split recipient cannot be empty")
		}
		if numerator == 0 {
			return nil, fmt.Errorf("split for %s cannot be zero", account)
		}
		split[account] = Fraction{Numerator: numerator}
		sum += numerator
	}

	if sum != FractionDenominator {
		return nil, fmt.Errorf("split numerators must sum up to %d, got %d", FractionDenominator, sum)
	}

	return split, nil
}

// SortedRecipients returns the split recipients in deterministic order.
func SortedRecipients(splitBetween map[string]Fraction) []string {
	recipients := make([]string, 0, len(splitBetween))
	for account := range splitBetween {
		recipients = append(recipients, account)
	}
	sort.Strings(recipients)

	return recipients
}
