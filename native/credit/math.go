package credit

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	wad         = mustBigInt("1000000000000000000") // 1e18 fixed-point scale

	// Virtual shares/assets seed the exchange rate so the first depositor
	// cannot manipulate it below safe minimums.
	virtualShares = big.NewInt(1_000_000)
	virtualAssets = big.NewInt(1)
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func mulDivDown(x, y, d *big.Int) *big.Int {
	if x == nil || y == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(x, y)
	return out.Quo(out, d)
}

func mulDivUp(x, y, d *big.Int) *big.Int {
	if x == nil || y == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(x, y)
	out.Add(out, new(big.Int).Sub(d, big.NewInt(1)))
	return out.Quo(out, d)
}

// toSharesDown converts assets to shares, rounding in favor of the pool.
func toSharesDown(assets, totalAssets, totalShares *big.Int) *big.Int {
	return mulDivDown(assets, addVirtualShares(totalShares), addVirtualAssets(totalAssets))
}

// toSharesUp converts assets to shares, rounding against the caller.
func toSharesUp(assets, totalAssets, totalShares *big.Int) *big.Int {
	return mulDivUp(assets, addVirtualShares(totalShares), addVirtualAssets(totalAssets))
}

// toAssetsDown converts shares to assets, rounding in favor of the pool.
func toAssetsDown(shares, totalAssets, totalShares *big.Int) *big.Int {
	return mulDivDown(shares, addVirtualAssets(totalAssets), addVirtualShares(totalShares))
}

// toAssetsUp converts shares to assets, rounding against the caller.
func toAssetsUp(shares, totalAssets, totalShares *big.Int) *big.Int {
	return mulDivUp(shares, addVirtualAssets(totalAssets), addVirtualShares(totalShares))
}

func addVirtualShares(totalShares *big.Int) *big.Int {
	if totalShares == nil {
		return new(big.Int).Set(virtualShares)
	}
	return new(big.Int).Add(totalShares, virtualShares)
}

func addVirtualAssets(totalAssets *big.Int) *big.Int {
	if totalAssets == nil {
		return new(big.Int).Set(virtualAssets)
	}
	return new(big.Int).Add(totalAssets, virtualAssets)
}

func wMulDown(x, y *big.Int) *big.Int {
	return mulDivDown(x, y, wad)
}

// taylorCompounded approximates e^(rate*elapsed) - 1 with a three-term Taylor
// expansion. The rate is WAD-scaled per second; the result is a WAD-scaled
// growth factor. The approximation undershoots the continuous rate, which
// keeps accrual conservative.
func taylorCompounded(rate *big.Int, elapsed uint64) *big.Int {
	if rate == nil || rate.Sign() <= 0 || elapsed == 0 {
		return big.NewInt(0)
	}
	first := new(big.Int).Mul(rate, new(big.Int).SetUint64(elapsed))
	second := mulDivDown(first, first, new(big.Int).Mul(wad, big.NewInt(2)))
	third := mulDivDown(second, first, new(big.Int).Mul(wad, big.NewInt(3)))
	sum := new(big.Int).Add(first, second)
	return sum.Add(sum, third)
}

// bpsMul applies a basis-points fraction to an amount, rounding down.
func bpsMul(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	return mulDivDown(amount, new(big.Int).SetUint64(bps), basisPoints)
}

// exactlyOneZero validates the assets-or-shares calling convention: exactly
// one of the two inputs must be positive and the other zero.
func exactlyOneZero(assets, shares *big.Int) bool {
	assetsSet := assets != nil && assets.Sign() > 0
	sharesSet := shares != nil && shares.Sign() > 0
	assetsNeg := assets != nil && assets.Sign() < 0
	sharesNeg := shares != nil && shares.Sign() < 0
	if assetsNeg || sharesNeg {
		return false
	}
	return assetsSet != sharesSet
}

// clampSub subtracts b from a, flooring the result at zero.
func clampSub(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}

func minBig(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
