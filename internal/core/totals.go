package core

// MonthTotals is the aggregated view of one month, consumed by the UI layer.
type MonthTotals struct {
	MonthID       MonthID `json:"month_id"`
	SaldoInicial  Money   `json:"saldo_inicial"`
	TotalDespesas Money   `json:"total_despesas"`
	TotalCartoes  Money   `json:"total_cartoes"`
	// Sobra = SaldoInicial - TotalDespesas - TotalCartoes. May be negative.
	Sobra Money `json:"sobra"`
	// PaidSoFar sums only despesas already marked pago.
	PaidSoFar Money `json:"paid_so_far"`
	// SpendingPercentage drives progress indicators: 100*(despesas+cartoes)/
	// saldoInicial when the opening balance is positive, 0 otherwise.
	SpendingPercentage float64 `json:"spending_percentage"`
}

// ComputeSpendingPercentage applies the progress-indicator rule.
func ComputeSpendingPercentage(saldoInicial, totalDespesas, totalCartoes Money) float64 {
	if saldoInicial.Cents <= 0 {
		return 0
	}
	spent := totalDespesas.Cents + totalCartoes.Cents
	return 100 * float64(spent) / float64(saldoInicial.Cents)
}
