package core

// Installment is the materialization of a compra against one month.
type Installment struct {
	Active bool
	Amount Money
	// Index is the 1-based installment number when Active.
	Index int
}

// ActiveInstallment decides whether a compra contributes to the given month
// and with what amount.
//
// ValorTotal is divided evenly across ParcelasTotal installments in integer
// cents; the division remainder goes wholly to the final installment, so the
// installments always sum back to ValorTotal exactly. The installment at
// index ParcelaAtual lands on the anchor month, each following index one
// month later. An unmarked compra (Marcado == false) is excluded from every
// month regardless of index.
func ActiveInstallment(c Compra, month MonthID) (Installment, error) {
	if c.ParcelaAtual < 1 || c.ParcelasTotal < 1 || c.ParcelaAtual > c.ParcelasTotal {
		return Installment{}, ErrInvalidInstallmentRange
	}
	if !c.Marcado {
		return Installment{}, nil
	}

	elapsed := MonthsBetween(c.AnchorMonth, month)
	if elapsed < 0 {
		return Installment{}, nil
	}
	index := c.ParcelaAtual + elapsed
	if index > c.ParcelasTotal {
		return Installment{}, nil
	}

	per := c.ValorTotal.Cents / int64(c.ParcelasTotal)
	amount := per
	if index == c.ParcelasTotal {
		amount += c.ValorTotal.Cents % int64(c.ParcelasTotal)
	}

	return Installment{Active: true, Amount: Money{Cents: amount}, Index: index}, nil
}
