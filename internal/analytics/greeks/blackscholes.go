// Package greeks prices one option contract under Black-Scholes and derives its
// sensitivities up to third order together with value, probability and liquidity metrics.
package greeks

import (
	"math"

	"optionsmetrics/internal/domain/options"
)

const eps = 1e-12

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// finite maps NaN and ±Inf to 0
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// div returns a/b, or 0 when b is ~0 or the quotient is not finite
func div(a, b float64) float64 {
	if math.Abs(b) < eps {
		return 0
	}
	return finite(a / b)
}

// divPtr is div for ratios whose absence must stay distinguishable from 0
func divPtr(a, b float64) *float64 {
	if math.Abs(b) < eps {
		return nil
	}
	v := finite(a / b)
	return &v
}

// inputs of one pricing call. K == 0 means the strike is unknown.
type inputs struct {
	S, K, Sigma, R, Q, T float64
	Type                 options.OptionType
}

// sensitivities holds the model outputs. Vega, Theta and Rho are per unit
// (not per vol point / day / rate point).
type sensitivities struct {
	D1, D2 float64

	Price                   float64
	Delta, Gamma, Vega      float64
	Theta, Rho              float64
	Vanna, Volga, Charm     float64
	Veta, Speed, Zomma      float64
	Color, Ultima, Vera     float64
	EpsilonCall, EpsilonPut float64
}

// evaluate runs the model. With an unknown strike, ln(S/K) is taken as 0 so the
// spot and volatility driven terms still compute; strike terms degrade to 0.
func evaluate(in inputs) sensitivities {
	var out sensitivities

	S, K, sigma, r, q, T := in.S, in.K, in.Sigma, in.R, in.Q, in.T
	sqrtT := 0.0
	if T > 0 {
		sqrtT = math.Sqrt(T)
	}
	sigmaSqrtT := sigma * sqrtT
	sigma2 := sigma * sigma

	lnSK := 0.0
	if K > 0 && S > 0 {
		lnSK = math.Log(S / K)
	}

	d1, d2 := 0.0, 0.0
	if sigmaSqrtT > 0 {
		d1 = (lnSK + (r-q+sigma2/2)*T) / sigmaSqrtT
		d2 = d1 - sigmaSqrtT
	}
	out.D1, out.D2 = d1, d2

	discR := math.Exp(-r * T)
	discQ := math.Exp(-q * T)
	Nd1, Nd2 := normCDF(d1), normCDF(d2)
	Nmd1, Nmd2 := normCDF(-d1), normCDF(-d2)
	nd1 := normPDF(d1)

	strikeKnown := K > 0 && S > 0
	switch in.Type {
	case options.Call:
		if strikeKnown {
			out.Price = S*discQ*Nd1 - K*discR*Nd2
		}
		out.Delta = discQ * Nd1
	case options.Put:
		if strikeKnown {
			out.Price = K*discR*Nmd2 - S*discQ*Nmd1
		}
		out.Delta = discQ * (Nd1 - 1)
	}

	if S > 0 && sigmaSqrtT > 0 {
		out.Gamma = div(discQ*nd1, S*sigmaSqrtT)
	}
	if sqrtT > 0 {
		out.Vega = S * discQ * nd1 * sqrtT

		decay := -div(S*discQ*nd1*sigma, 2*sqrtT)
		switch in.Type {
		case options.Call:
			out.Theta = decay - r*K*discR*Nd2 + q*S*discQ*Nd1
		case options.Put:
			out.Theta = decay + r*K*discR*Nmd2 - q*S*discQ*Nmd1
		default:
			out.Theta = decay
		}
	}
	switch in.Type {
	case options.Call:
		out.Rho = K * T * discR * Nd2
	case options.Put:
		out.Rho = -K * T * discR * Nmd2
	}

	// Higher orders: closed-form-like expressions kept exactly as the
	// reference model states them (several are simplifications).
	d1d2 := d1 * d2
	if sigma > 0 {
		out.Vanna = -nd1 * d2 / sigma
		out.Volga = S * nd1 * sqrtT * d1d2 / sigma
		out.Vera = S * nd1 * sqrtT * d1d2 / sigma
	}

	twoRT := 2 * r * T
	carry := twoRT - d2*sigmaSqrtT
	if T > 0 && sigmaSqrtT > 0 {
		out.Charm = -nd1 * carry / (2 * T * sigmaSqrtT)
		out.Veta = S * nd1 * sqrtT * (r*d1/sigmaSqrtT - (1+d1d2)/(2*T))
	}
	if S > 0 && sigmaSqrtT > 0 {
		out.Speed = -nd1 / (S * S * sigmaSqrtT) * (d1/sigmaSqrtT + 1)
	}
	if S > 0 && sigma2 > 0 && sqrtT > 0 {
		out.Zomma = nd1 * (d1d2 - 1) / (S * sigma2 * sqrtT)
	}
	if S > 0 && T > 0 && sigmaSqrtT > 0 {
		out.Color = -nd1 / (2 * S * T * sigmaSqrtT) * (1 + carry*d1/sigmaSqrtT)
	}
	if sigma2 > 0 && sqrtT > 0 {
		out.Ultima = -S * nd1 * sqrtT / sigma2 * (d1d2*(1-d1d2) + d1*d1 + d2*d2)
	}

	out.EpsilonCall = -S * T * Nd1
	out.EpsilonPut = S * T * Nmd1

	return out.sanitized()
}

func (s sensitivities) sanitized() sensitivities {
	for _, p := range []*float64{
		&s.D1, &s.D2, &s.Price, &s.Delta, &s.Gamma, &s.Vega, &s.Theta, &s.Rho,
		&s.Vanna, &s.Volga, &s.Charm, &s.Veta, &s.Speed, &s.Zomma, &s.Color,
		&s.Ultima, &s.Vera, &s.EpsilonCall, &s.EpsilonPut,
	} {
		*p = finite(*p)
	}
	return s
}
