package budget

import (
	"github.com/shopspring/decimal"

	"budgetsync/internal/model"
)

// Totals summarizes a budget for display.
type Totals struct {
	Income           decimal.Decimal
	FixedObligations decimal.Decimal
	VariableExpenses decimal.Decimal
	// DebtAttack is what is left after obligations and expenses. May be negative.
	DebtAttack decimal.Decimal
}

// CalculateTotals sums header fields and custom items. An item counts as
// income when its type is income or its category is an income field;
// obligations count toward fixed or variable by category. Obligations in
// categories outside the header fields are not counted.
func CalculateTotals(b *model.Budget, items []*model.LineItem) Totals {
	var t Totals
	var amounts model.Amounts
	if b != nil {
		amounts = b.Amounts
	}

	for _, f := range model.IncomeFields {
		t.Income = t.Income.Add(amounts.Get(f))
	}
	for _, f := range model.FixedFields {
		t.FixedObligations = t.FixedObligations.Add(amounts.Get(f))
	}
	for _, f := range model.VariableFields {
		t.VariableExpenses = t.VariableExpenses.Add(amounts.Get(f))
	}

	for _, item := range items {
		group := model.Field(item.Category).Group()
		switch {
		case item.Type == model.ItemIncome || group == model.GroupIncome:
			t.Income = t.Income.Add(item.Amount)
		case group == model.GroupFixed:
			t.FixedObligations = t.FixedObligations.Add(item.Amount)
		case group == model.GroupVariable:
			t.VariableExpenses = t.VariableExpenses.Add(item.Amount)
		}
	}

	t.DebtAttack = t.Income.Sub(t.FixedObligations).Sub(t.VariableExpenses)
	return t
}
