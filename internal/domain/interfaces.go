package domain

// YieldSource answers constant-maturity yields in percent.
// The returned value is the first observation inside the calendar year.
type YieldSource interface {
	Yield(maturityYears, year int) (float64, error)
}
