package credit

import "math/big"

// RateModel supplies the pool's base borrow rate, WAD-scaled per second, given
// the current pool totals. The curve's internal shape is a collaborator
// concern; the engine only consumes its per-second output.
type RateModel interface {
	BorrowRatePerSecond(totalBorrowAssets, totalSupplyAssets *big.Int) *big.Int
}

// InterestModel is a kinked utilisation curve: a base APR plus a linear slope
// up to the kink utilisation, then a steeper slope beyond it.
type InterestModel struct {
	// BaseRate is the minimum borrow APR applied when utilisation is zero.
	BaseRate *big.Rat
	// Slope1 is the borrow APR increase per unit of utilisation up to the
	// kink point.
	Slope1 *big.Rat
	// Slope2 governs the additional APR increase applied when utilisation
	// exceeds the kink point.
	Slope2 *big.Rat
	// Kink represents the utilisation ratio where the borrow rate slope
	// changes to encourage liquidity.
	Kink *big.Rat
}

// NewInterestModel constructs an interest model from floating point inputs.
//
// The parameters should be provided as decimals, e.g. a 2% base rate is
// expressed as 0.02 and an 80% kink utilisation is 0.8.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	clone := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	if m.BaseRate != nil {
		clone.BaseRate.Set(m.BaseRate)
	}
	if m.Slope1 != nil {
		clone.Slope1.Set(m.Slope1)
	}
	if m.Slope2 != nil {
		clone.Slope2.Set(m.Slope2)
	}
	if m.Kink != nil {
		clone.Kink.Set(m.Kink)
	}
	return clone
}

// Utilisation computes the pool utilisation ratio U = totalBorrowed /
// totalSupplied. When no liquidity exists the utilisation is defined as zero.
func (m *InterestModel) Utilisation(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return new(big.Rat)
	}
	if totalSupplied == nil || totalSupplied.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrowed, totalSupplied)
}

// BorrowAPR derives the dynamic borrow APR based on the current utilisation.
func (m *InterestModel) BorrowAPR(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	base := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(totalBorrowed, totalSupplied)
	if utilisation.Sign() == 0 {
		return base
	}

	rate := base
	kink := cloneRat(m.Kink)
	slope1 := cloneRat(m.Slope1)
	slope2 := cloneRat(m.Slope2)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		// Linear region before the kink.
		return rate.Add(rate, new(big.Rat).Mul(slope1, utilisation))
	}

	// Rate at the kink using slope1.
	rate.Add(rate, new(big.Rat).Mul(slope1, kink))

	// Additional rate beyond the kink using slope2.
	excess := new(big.Rat).Sub(utilisation, kink)
	if excess.Sign() < 0 {
		excess.SetInt64(0)
	}
	return rate.Add(rate, new(big.Rat).Mul(slope2, excess))
}

// BorrowRatePerSecond converts the annualised borrow APR into the WAD-scaled
// per-second rate the accrual engine consumes.
func (m *InterestModel) BorrowRatePerSecond(totalBorrowAssets, totalSupplyAssets *big.Int) *big.Int {
	apr := m.BorrowAPR(totalBorrowAssets, totalSupplyAssets)
	if apr == nil || apr.Sign() <= 0 {
		return big.NewInt(0)
	}
	perSecond := new(big.Rat).Quo(apr, new(big.Rat).SetUint64(secondsPerYear))
	scaled := new(big.Rat).Mul(perSecond, new(big.Rat).SetInt(wad))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel provides a reasonable starting configuration featuring
// a kinked rate curve with a modest base rate.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
