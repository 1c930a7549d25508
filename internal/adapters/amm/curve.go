package amm

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

const (
	feeDenominator = 10000
	floatPrec      = 256
	// clipShrinkRounds bounds the rounding correction in clipToBound.
	clipShrinkRounds = 16
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidPrice          = errors.New("invalid price")
	ErrOverflow              = errors.New("arithmetic overflow")
	ErrInvalidFee            = errors.New("invalid fee")
	ErrUnknownPair           = errors.New("unknown pair")
)

var (
	u256FeeDenom = uint256.NewInt(feeDenominator)
	u256One      = uint256.NewInt(1)
)

// Curve is the constant-product pricing function with a per-swap fee that stays in the pool.
type Curve struct {
	FeeBps uint64
}

func NewCurve(feeBps uint64) (Curve, error) {
	if feeBps >= feeDenominator {
		return Curve{}, ErrInvalidFee
	}
	return Curve{FeeBps: feeBps}, nil
}

// AmountOut = in*(1-fee)*rOut / (rIn + in*(1-fee))
func (c Curve) AmountOut(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, ErrInvalidAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	inWithFee, of := new(uint256.Int).MulOverflow(amountIn, uint256.NewInt(feeDenominator-c.FeeBps))
	if of {
		return nil, ErrOverflow
	}
	num, of := new(uint256.Int).MulOverflow(inWithFee, reserveOut)
	if of {
		return nil, ErrOverflow
	}
	den, of := new(uint256.Int).MulOverflow(reserveIn, u256FeeDenom)
	if of {
		return nil, ErrOverflow
	}
	if _, of = den.AddOverflow(den, inWithFee); of {
		return nil, ErrOverflow
	}
	return num.Div(num, den), nil
}

// AmountIn = rIn*out / ((rOut-out)*(1-fee)) + 1
func (c Curve) AmountIn(amountOut, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountOut == nil || amountOut.IsZero() {
		return nil, ErrInvalidAmount
	}
	if reserveIn.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}

	num, of := new(uint256.Int).MulOverflow(reserveIn, amountOut)
	if of {
		return nil, ErrOverflow
	}
	if _, of = num.MulOverflow(num, u256FeeDenom); of {
		return nil, ErrOverflow
	}
	left := new(uint256.Int).Sub(reserveOut, amountOut)
	den, of := new(uint256.Int).MulOverflow(left, uint256.NewInt(feeDenominator-c.FeeBps))
	if of {
		return nil, ErrOverflow
	}
	in := num.Div(num, den)
	return in.Add(in, u256One), nil
}

func (c Curve) feeFraction() *big.Float {
	f := newFloat().SetUint64(c.FeeBps)
	return f.Quo(f, newFloat().SetUint64(feeDenominator))
}

// reserves is a snapshot of one pool's balances in on-chain units.
type reserves struct {
	base          *uint256.Int
	quote         *uint256.Int
	baseDecimals  int32
	quoteDecimals int32
	curve         Curve
}

func (r reserves) clone() reserves {
	r.base = r.base.Clone()
	r.quote = r.quote.Clone()
	return r
}

func (r reserves) spot() decimal.Decimal {
	if r.base.IsZero() {
		return decimal.Zero
	}
	b := fromUnits(r.base, r.baseDecimals)
	q := fromUnits(r.quote, r.quoteDecimals)
	return q.Div(b)
}

// quoteLeg returns the quote units paid (buy) or received (sell) for baseUnits.
func (r reserves) quoteLeg(side domain.Side, baseUnits *uint256.Int) (*uint256.Int, error) {
	if side == domain.SideBuy {
		return r.curve.AmountIn(baseUnits, r.quote, r.base)
	}
	return r.curve.AmountOut(baseUnits, r.base, r.quote)
}

func (r reserves) apply(side domain.Side, baseUnits, quoteUnits *uint256.Int) reserves {
	next := r.clone()
	if side == domain.SideBuy {
		next.base.Sub(next.base, baseUnits)
		next.quote.Add(next.quote, quoteUnits)
	} else {
		next.base.Add(next.base, baseUnits)
		next.quote.Sub(next.quote, quoteUnits)
	}
	return next
}

// simulate prices a base-denominated trade without mutating the snapshot.
func (r reserves) simulate(side domain.Side, baseUnits *uint256.Int) (*domain.SwapResult, reserves, error) {
	if baseUnits == nil || baseUnits.IsZero() {
		return nil, r, ErrInvalidAmount
	}
	quoteUnits, err := r.quoteLeg(side, baseUnits)
	if err != nil {
		return nil, r, err
	}
	after := r.apply(side, baseUnits, quoteUnits)

	baseAmt := fromUnits(baseUnits, r.baseDecimals)
	quoteAmt := fromUnits(quoteUnits, r.quoteDecimals)
	spot := r.spot()

	res := &domain.SwapResult{
		ExecutedBase: baseAmt,
		SpotBefore:   spot,
		SpotAfter:    after.spot(),
	}
	if side == domain.SideBuy {
		res.ExecutedInput = quoteAmt
		res.ExecutedOutput = baseAmt
	} else {
		res.ExecutedInput = baseAmt
		res.ExecutedOutput = quoteAmt
	}
	if baseAmt.IsPositive() {
		res.EffectivePrice = quoteAmt.Div(baseAmt)
	}
	if spot.IsPositive() {
		res.PriceImpact = res.EffectivePrice.Sub(spot).Abs().Div(spot)
	}
	return res, after, nil
}

// baseToReach solves for the base amount whose trade lands the spot price on target.
// Buy (u = base left):  p*g*u^2 + y*f*u - y*x = 0,           dx = x - u
// Sell:                 g*dx^2 + x*(1+g)*dx + x^2 - y*x/p = 0
func (r reserves) baseToReach(target decimal.Decimal, side domain.Side) (*uint256.Int, error) {
	if !target.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if r.base.IsZero() || r.quote.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	spot := r.spot()
	if side == domain.SideBuy && target.LessThanOrEqual(spot) {
		return new(uint256.Int), nil
	}
	if side == domain.SideSell && target.GreaterThanOrEqual(spot) {
		return new(uint256.Int), nil
	}

	p, ok := newFloat().SetString(target.Shift(r.quoteDecimals - r.baseDecimals).String())
	if !ok {
		return nil, ErrInvalidPrice
	}
	x := newFloat().SetInt(r.base.ToBig())
	y := newFloat().SetInt(r.quote.ToBig())
	f := r.curve.feeFraction()
	g := newFloat().Sub(newFloat().SetInt64(1), f)
	two := newFloat().SetInt64(2)
	four := newFloat().SetInt64(4)

	var dx *big.Float
	if side == domain.SideBuy {
		yf := newFloat().Mul(y, f)
		disc := newFloat().Mul(yf, yf)
		disc.Add(disc, mulAll(four, p, g, y, x))
		root := newFloat().Sqrt(disc)
		u := root.Sub(root, yf)
		u.Quo(u, mulAll(two, p, g))
		dx = newFloat().Sub(x, u)
	} else {
		onePlusG := newFloat().Add(newFloat().SetInt64(1), g)
		b := newFloat().Mul(x, onePlusG)
		c := newFloat().Mul(x, x)
		c.Sub(c, newFloat().Quo(newFloat().Mul(y, x), p))
		disc := newFloat().Mul(b, b)
		disc.Sub(disc, mulAll(four, g, c))
		if disc.Sign() < 0 {
			return new(uint256.Int), nil
		}
		root := newFloat().Sqrt(disc)
		dx = root.Sub(root, b)
		dx.Quo(dx, newFloat().Mul(two, g))
	}
	if dx.Sign() <= 0 {
		return new(uint256.Int), nil
	}

	whole, _ := dx.Int(nil)
	out, of := uint256.FromBig(whole)
	if of {
		return nil, ErrOverflow
	}
	if side == domain.SideBuy && !out.Lt(r.base) {
		out.Sub(r.base, u256One)
	}
	return out, nil
}

func crosses(side domain.Side, price, bound decimal.Decimal) bool {
	if side == domain.SideBuy {
		return price.GreaterThan(bound)
	}
	return price.LessThan(bound)
}

// clipToBound shrinks baseUnits so the post-trade spot never crosses bound.
func (r reserves) clipToBound(side domain.Side, baseUnits *uint256.Int, bound decimal.Decimal) (*uint256.Int, error) {
	reach, err := r.baseToReach(bound, side)
	if err != nil {
		return nil, err
	}
	amount := baseUnits.Clone()
	if reach.Lt(amount) {
		amount = reach
	}

	for i := 0; i < clipShrinkRounds && !amount.IsZero(); i++ {
		_, after, err := r.simulate(side, amount)
		if err != nil {
			return nil, err
		}
		if !crosses(side, after.spot(), bound) {
			return amount, nil
		}
		shrunk := new(uint256.Int).Mul(amount, uint256.NewInt(feeDenominator-1))
		shrunk.Div(shrunk, u256FeeDenom)
		if !shrunk.Lt(amount) {
			shrunk.Sub(amount, u256One)
		}
		amount = shrunk
	}
	if amount.IsZero() {
		return amount, nil
	}
	return new(uint256.Int), nil
}

func newFloat() *big.Float {
	return new(big.Float).SetPrec(floatPrec)
}

func mulAll(first *big.Float, rest ...*big.Float) *big.Float {
	out := newFloat().Set(first)
	for _, v := range rest {
		out.Mul(out, v)
	}
	return out
}

func toUnits(amount decimal.Decimal, decimals int32) (*uint256.Int, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	u, of := uint256.FromBig(amount.Shift(decimals).Truncate(0).BigInt())
	if of {
		return nil, ErrOverflow
	}
	return u, nil
}

func fromUnits(units *uint256.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units.ToBig(), -decimals)
}
