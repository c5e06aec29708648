// Package swapmath implements the Dutch-auction price curve math,
// exported so a resolver client embedding this module can
// independently compute the price it expects to see at a given tick
// without round-tripping through the coordinator. Generalized from the
// piecewise-linear interpolation types.FusionOrder.CalculateCurrentRate
// performed over an arbitrary PriceCurve into a fixed geometric-decay
// schedule.
package swapmath

import "math/big"

// TickInterval and TickFactor: every tick the current price is reduced
// by multiplying by TickFactor, down to a floor of EndPrice.
const (
	TickIntervalSeconds = 10
	TickFactor          = 0.95
)

var tickFactorNum = big.NewInt(95)
var tickFactorDen = big.NewInt(100)

// SegmentStartMultipliers are the four tiered starting multipliers for
// a segmented auction's sub-auctions.
var SegmentStartMultipliers = [4]float64{1.077, 1.051, 1.026, 1.000}

// SingleStartMultiplier and the slippage-based end price define a
// single-order auction's bounds.
const SingleStartMultiplier = 1.2

// StartPrice returns 1.2·M for a single-order auction, at full
// precision — callers display it with RoundToInt.
func StartPrice(marketPrice *big.Float) *big.Float {
	return new(big.Float).Mul(marketPrice, big.NewFloat(SingleStartMultiplier))
}

// EndPrice returns M·(1−slippage) at full precision; internal
// comparisons use this value directly, only display rounds it to an
// integer.
func EndPrice(marketPrice *big.Float, slippage float64) *big.Float {
	factor := big.NewFloat(1 - slippage)
	return new(big.Float).Mul(marketPrice, factor)
}

// SegmentStartPrice returns the tiered start price for segment index i
// (0-based, 0..3): {1.077M, 1.051M, 1.026M, 1.000M}.
func SegmentStartPrice(marketPrice *big.Float, i int) *big.Float {
	return new(big.Float).Mul(marketPrice, big.NewFloat(SegmentStartMultipliers[i]))
}

// RoundToInt rounds x to the nearest integer (half rounds away from
// zero) — segment start prices and the single auction's start/end
// prices are shown to resolvers this way.
func RoundToInt(x *big.Float) *big.Int {
	half := big.NewFloat(0.5)
	if x.Sign() < 0 {
		half = big.NewFloat(-0.5)
	}
	shifted := new(big.Float).Add(x, half)
	i, _ := shifted.Int(nil)
	return i
}

// PriceAtTick computes the auction's displayed price after the given
// number of ticks by applying the reduction rule
// `current := max(end, current·tickFactor)` once per tick, truncating
// to an integer at every step — the auction's currentPrice is an
// integer fixed-point quantity, and truncating only once at the end
// produces a different result than truncating at each step.
// Recomputed from (start, end, tick) rather than carried as mutated
// state, so a crashed tick task resumes correctly from the order
// store's last-known tick count.
func PriceAtTick(start, end *big.Float, tick int) *big.Int {
	cur := RoundToInt(start)
	endInt := RoundToInt(end)
	for i := 0; i < tick; i++ {
		next := new(big.Int).Mul(cur, tickFactorNum)
		next.Div(next, tickFactorDen)
		if next.Cmp(endInt) < 0 {
			next = new(big.Int).Set(endInt)
		}
		cur = next
	}
	return cur
}

// AtOrBelowFloor reports whether the current price has reached the end
// price, at which point the price-reduction loop stops. Price-floor
// does not auto-expire: a late resolver can still match at the worst
// acceptable price.
func AtOrBelowFloor(current, end *big.Int) bool {
	return current.Cmp(end) <= 0
}
