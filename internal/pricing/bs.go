// Package pricing implements the closed-form Black-Scholes model: theoretical
// price, the four first-order sensitivities, and an implied-volatility solver.
//
// Conventions follow common practitioner output:
//   - Theta is per calendar day (annual theta / 365).
//   - Vega is per one percentage point of volatility (raw vega / 100).
//
// Delta and gamma are unscaled.
package pricing

import (
	"errors"
	"math"
)

const sqrt2Pi = 2.5066282746310002

// Solver failure categories, so callers can tell an unsolvable quote from a
// quote that merely sits outside the no-arbitrage band.
var (
	ErrNoConvergence = errors.New("implied vol did not converge")
	ErrPriceBounds   = errors.New("price outside no-arbitrage bounds")
)

// Greeks holds the four Black-Scholes sensitivities of a single option.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Price calculates the value of a European option.
//
// Parameters:
//   - isCall: true for call option, false for put option
//   - S: spot price of the underlying asset
//   - K: strike price of the option
//   - T: time to expiry in years
//   - r: risk-free interest rate (annual)
//   - sigma: volatility of the underlying asset (annual, as a decimal)
//
// If time to expiry or volatility is zero or negative, the intrinsic value is
// returned instead.
func Price(isCall bool, S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		if isCall {
			return math.Max(0, S-K)
		}
		return math.Max(0, K-S)
	}

	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	d2 := d1 - sigma*math.Sqrt(T)

	if isCall {
		return S*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2)
	}
	return K*math.Exp(-r*T)*normCDF(-d2) - S*normCDF(-d1)
}

// Delta measures the sensitivity of the option price to the spot price.
func Delta(isCall bool, S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		return 0
	}
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	if isCall {
		return normCDF(d1)
	}
	return normCDF(d1) - 1
}

// Gamma measures the sensitivity of delta to the spot price. It is identical
// for calls and puts.
func Gamma(S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		return 0
	}
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	return normPDF(d1) / (S * sigma * math.Sqrt(T))
}

// Theta measures the change in option price per calendar day of time decay.
func Theta(isCall bool, S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		return 0
	}
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	d2 := d1 - sigma*math.Sqrt(T)

	decay := -S * normPDF(d1) * sigma / (2 * math.Sqrt(T))
	if isCall {
		return (decay - r*K*math.Exp(-r*T)*normCDF(d2)) / 365
	}
	return (decay + r*K*math.Exp(-r*T)*normCDF(-d2)) / 365
}

// Vega measures the change in option price per one percentage point change in
// volatility. It is identical for calls and puts. Returns 0 if T or sigma is
// non-positive.
func Vega(S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		return 0
	}
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	return S * normPDF(d1) * math.Sqrt(T) / 100
}

// Solver parameters. sigmaMin/sigmaMax also bound the reported result: a
// quote that only prices beyond 500% vol is treated as non-convergent.
const (
	maxIter  = 100
	tol      = 1e-8
	sigmaMin = 1e-4
	sigmaMax = 5.0
)

// ImpliedVol inverts the Black-Scholes formula, returning the volatility at
// which the model price matches the observed price.
//
// The solve is Newton-Raphson seeded at 20% vol, falling back to bisection on
// [sigmaMin, sigmaMax] when the Newton iteration stalls on a flat vega. The
// observed price is first checked against the no-arbitrage band
// (intrinsic value below, S or discounted K above); quotes outside it return
// ErrPriceBounds rather than burning iterations.
func ImpliedVol(price float64, isCall bool, S, K, T, r float64) (float64, error) {
	if T <= 0 {
		return 0, errors.New("invalid expiry")
	}
	if S <= 0 || K <= 0 || price <= 0 {
		return 0, ErrPriceBounds
	}

	var lower, upper float64
	if isCall {
		lower = math.Max(0, S-K*math.Exp(-r*T))
		upper = S
	} else {
		lower = math.Max(0, K*math.Exp(-r*T)-S)
		upper = K * math.Exp(-r*T)
	}
	if price <= lower || price >= upper {
		return 0, ErrPriceBounds
	}

	// Newton-Raphson, seeded at 20% vol.
	sigma := 0.20
	for i := 0; i < maxIter; i++ {
		diff := Price(isCall, S, K, T, r, sigma) - price
		if math.Abs(diff) < tol {
			return sigma, nil
		}

		// Raw (unscaled) vega is the derivative d(price)/d(sigma).
		vega := 100 * Vega(S, K, T, r, sigma)
		if vega < 1e-10 {
			break
		}

		sigma -= diff / vega

		// Guardrails
		if sigma <= sigmaMin {
			sigma = sigmaMin
		}
		if sigma > sigmaMax {
			sigma = sigmaMax
		}
	}

	return impliedVolBisect(price, isCall, S, K, T, r)
}

// impliedVolBisect brackets sigma on [sigmaMin, sigmaMax]; the Black-Scholes
// price is strictly increasing in sigma so a sign change is sufficient.
func impliedVolBisect(price float64, isCall bool, S, K, T, r float64) (float64, error) {
	lo, hi := sigmaMin, sigmaMax
	fLo := Price(isCall, S, K, T, r, lo) - price
	fHi := Price(isCall, S, K, T, r, hi) - price
	if fLo > 0 || fHi < 0 {
		return 0, ErrNoConvergence
	}

	for i := 0; i < 200; i++ {
		mid := 0.5 * (lo + hi)
		fMid := Price(isCall, S, K, T, r, mid) - price
		if math.Abs(fMid) < tol || hi-lo < 1e-10 {
			return mid, nil
		}
		if fMid > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return 0, ErrNoConvergence
}

// normPDF is the standard normal probability density at x.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / sqrt2Pi
}

// normCDF is the standard normal cumulative distribution at x, via the error
// function.
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}
