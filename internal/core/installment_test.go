package core

import (
	"errors"
	"testing"
)

func compra(total int64, atual, parcelas int, anchor MonthID) Compra {
	return Compra{
		ID:            "c1",
		WorkspaceID:   "ws1",
		CartaoID:      "card1",
		Descricao:     "notebook",
		ValorTotal:    Money{Cents: total},
		ParcelaAtual:  atual,
		ParcelasTotal: parcelas,
		Marcado:       true,
		AnchorMonth:   anchor,
	}
}

func TestActiveInstallmentPlacement(t *testing.T) {
	c := compra(30000, 1, 3, "2025-01")

	cases := []struct {
		month  MonthID
		active bool
		amount int64
		index  int
	}{
		{"2024-12", false, 0, 0},
		{"2025-01", true, 10000, 1},
		{"2025-02", true, 10000, 2},
		{"2025-03", true, 10000, 3},
		{"2025-04", false, 0, 0},
	}
	for _, tc := range cases {
		inst, err := ActiveInstallment(c, tc.month)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.month, err)
		}
		if inst.Active != tc.active {
			t.Errorf("%s: active = %v, want %v", tc.month, inst.Active, tc.active)
		}
		if inst.Amount.Cents != tc.amount {
			t.Errorf("%s: amount = %d, want %d", tc.month, inst.Amount.Cents, tc.amount)
		}
		if inst.Index != tc.index {
			t.Errorf("%s: index = %d, want %d", tc.month, inst.Index, tc.index)
		}
	}
}

func TestActiveInstallmentMidwayStart(t *testing.T) {
	// Purchase imported at installment 3 of 5: only 3..5 land from the anchor on.
	c := compra(50000, 3, 5, "2025-06")

	inst, err := ActiveInstallment(c, "2025-06")
	if err != nil || !inst.Active || inst.Index != 3 {
		t.Fatalf("anchor month: got %+v err=%v, want active index 3", inst, err)
	}
	inst, _ = ActiveInstallment(c, "2025-08")
	if !inst.Active || inst.Index != 5 {
		t.Fatalf("third month: got %+v, want active index 5", inst)
	}
	inst, _ = ActiveInstallment(c, "2025-09")
	if inst.Active {
		t.Fatalf("past final installment should be inactive, got %+v", inst)
	}
}

func TestActiveInstallmentRemainderOnFinal(t *testing.T) {
	// 100.00 over 3 installments: 33.33 + 33.33 + 33.34.
	c := compra(10000, 1, 3, "2025-01")

	amounts := []int64{3333, 3333, 3334}
	month := MonthID("2025-01")
	for i, want := range amounts {
		inst, err := ActiveInstallment(c, month)
		if err != nil {
			t.Fatalf("installment %d: %v", i+1, err)
		}
		if inst.Amount.Cents != want {
			t.Errorf("installment %d: amount = %d, want %d", i+1, inst.Amount.Cents, want)
		}
		month = month.Next()
	}
}

func TestActiveInstallmentSumEqualsTotal(t *testing.T) {
	// Across exactly the N anchor-forward months the contributions must sum
	// back to the total, whatever the division remainder.
	totals := []int64{10000, 9999, 1, 777, 123456789}
	parcelas := []int{1, 2, 3, 7, 12}

	for _, total := range totals {
		for _, n := range parcelas {
			c := compra(total, 1, n, "2024-11")
			var sum int64
			month := MonthID("2024-11")
			for i := 0; i < n; i++ {
				inst, err := ActiveInstallment(c, month)
				if err != nil {
					t.Fatalf("total=%d n=%d: %v", total, n, err)
				}
				if !inst.Active {
					t.Fatalf("total=%d n=%d month=%s: expected active", total, n, month)
				}
				sum += inst.Amount.Cents
				month = month.Next()
			}
			if sum != total {
				t.Errorf("total=%d n=%d: installments sum to %d", total, n, sum)
			}
		}
	}
}

func TestActiveInstallmentUnmarked(t *testing.T) {
	c := compra(30000, 1, 3, "2025-01")
	c.Marcado = false

	inst, err := ActiveInstallment(c, "2025-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Active {
		t.Fatalf("unmarked compra must never be active, got %+v", inst)
	}
}

func TestActiveInstallmentInvalidRange(t *testing.T) {
	cases := []struct{ atual, parcelas int }{
		{4, 3},
		{0, 3},
		{1, 0},
		{-1, -1},
	}
	for _, tc := range cases {
		c := compra(30000, tc.atual, tc.parcelas, "2025-01")
		if _, err := ActiveInstallment(c, "2025-01"); !errors.Is(err, ErrInvalidInstallmentRange) {
			t.Errorf("atual=%d parcelas=%d: err = %v, want ErrInvalidInstallmentRange",
				tc.atual, tc.parcelas, err)
		}
	}
}
