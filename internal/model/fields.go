package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Field is one of the fixed budget header categories.
type Field string

const (
	// Income
	FieldNetSalary           Field = "netSalary"
	FieldSecondaryIncome     Field = "secondaryIncome"
	FieldPartnerContribution Field = "partnerContribution"
	FieldGrants              Field = "grants"

	// Fixed obligations
	FieldHousing       Field = "housing"
	FieldTransport     Field = "transport"
	FieldUtilities     Field = "utilities"
	FieldInsurance     Field = "insurance"
	FieldEducation     Field = "education"
	FieldFamilySupport Field = "familySupport"

	// Variable expenses
	FieldGroceries     Field = "groceries"
	FieldPersonalCare  Field = "personalCare"
	FieldHealth        Field = "health"
	FieldEntertainment Field = "entertainment"
	FieldOther         Field = "other"
)

// FieldGroup classifies a field for totals.
type FieldGroup int

const (
	GroupUnknown FieldGroup = iota
	GroupIncome
	GroupFixed
	GroupVariable
)

var (
	IncomeFields   = []Field{FieldNetSalary, FieldSecondaryIncome, FieldPartnerContribution, FieldGrants}
	FixedFields    = []Field{FieldHousing, FieldTransport, FieldUtilities, FieldInsurance, FieldEducation, FieldFamilySupport}
	VariableFields = []Field{FieldGroceries, FieldPersonalCare, FieldHealth, FieldEntertainment, FieldOther}
)

// AllFields returns every header field in display order.
func AllFields() []Field {
	all := make([]Field, 0, len(IncomeFields)+len(FixedFields)+len(VariableFields))
	all = append(all, IncomeFields...)
	all = append(all, FixedFields...)
	all = append(all, VariableFields...)
	return all
}

// Group returns the totals group the field belongs to.
func (f Field) Group() FieldGroup {
	for _, g := range []struct {
		fields []Field
		group  FieldGroup
	}{
		{IncomeFields, GroupIncome},
		{FixedFields, GroupFixed},
		{VariableFields, GroupVariable},
	} {
		for _, candidate := range g.fields {
			if candidate == f {
				return g.group
			}
		}
	}
	return GroupUnknown
}

// Valid reports whether f is a known header field.
func (f Field) Valid() bool {
	return f.Group() != GroupUnknown
}

// ParseField converts a field name to a Field.
func ParseField(name string) (Field, error) {
	f := Field(name)
	if !f.Valid() {
		return "", fmt.Errorf("unknown budget field: %q", name)
	}
	return f, nil
}

// Amounts maps header fields to non-negative currency amounts.
type Amounts map[Field]decimal.Decimal

// ZeroAmounts returns Amounts with every field set to zero.
func ZeroAmounts() Amounts {
	a := make(Amounts, len(AllFields()))
	for _, f := range AllFields() {
		a[f] = decimal.Zero
	}
	return a
}

// Get returns the amount for f, or zero if unset.
func (a Amounts) Get(f Field) decimal.Decimal {
	if v, ok := a[f]; ok {
		return v
	}
	return decimal.Zero
}

// Clone returns a copy with every known field populated.
func (a Amounts) Clone() Amounts {
	out := ZeroAmounts()
	for f, v := range a {
		out[f] = v
	}
	return out
}

// Merge returns a copy of a with the given fields overwritten.
func (a Amounts) Merge(patch Amounts) Amounts {
	out := a.Clone()
	for f, v := range patch {
		out[f] = v
	}
	return out
}
