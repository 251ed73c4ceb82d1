package entity

import (
	"fmt"

	"github.com/holiman/uint256"
)

// FractionDenominator is the fixed denominator for all percentage maths on
// the ledger and the market. 100 units = 1%.
const FractionDenominator = 10_000

// RoyaltyUpperLimit caps token royalties at 50% of a sale.
const RoyaltyUpperLimit = 5_000

// Fraction is a numerator over FractionDenominator.
type Fraction struct {
	Numerator uint32 `json:"numerator"`
}

func NewFraction(numerator uint32) (Fraction, error) {
	if numerator > FractionDenominator {
		return Fraction{}, fmt.Errorf("fraction numerator %d exceeds %d", numerator, FractionDenominator)
	}

	return Fraction{Numerator: numerator}, nil
}

// Of returns amount * numerator / denominator, rounded down.
func (f Fraction) Of(amount *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Mul(amount, uint256.NewInt(uint64(f.Numerator)))
	return out.Div(out, uint256.NewInt(FractionDenominator))
}
