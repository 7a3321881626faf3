package fields

import "time"

// Field is a canonical loan-application field name.
type Field string

const (
	FullName       Field = "full_name"
	MonthlyIncome  Field = "monthly_income"
	CreditScore    Field = "credit_score"
	LoanAmount     Field = "loan_amount"
	EmploymentType Field = "employment_type"
	LoanPurpose    Field = "loan_purpose"
	ExistingEMI    Field = "existing_emi"
)

// Required lists every field the intake conversation must collect,
// in the priority order the assistant asks for them.
var Required = []Field{
	FullName,
	MonthlyIncome,
	CreditScore,
	LoanAmount,
	EmploymentType,
	LoanPurpose,
	ExistingEMI,
}

// Value sources.
const (
	SourceExtracted  = "extracted"
	SourceStatedNone = "stated_none" // user explicitly said they have none (EMI = 0)
)

// Value is one collected field. Numeric fields use Number, the rest Text.
type Value struct {
	Text        string    `json:"text,omitempty"`
	Number      float64   `json:"number,omitempty"`
	Source      string    `json:"source"`
	Confidence  float64   `json:"confidence"`
	LastUpdated time.Time `json:"last_updated"`
}

// Map holds the collected fields for one session.
type Map map[Field]Value

// IsNumeric reports whether f carries a numeric value.
func IsNumeric(f Field) bool {
	switch f {
	case MonthlyIncome, CreditScore, LoanAmount, ExistingEMI:
		return true
	}
	return false
}

// Validate checks a candidate numeric value against the per-field range.
// Values outside the range are rejected rather than clamped.
func Validate(f Field, n float64) bool {
	switch f {
	case CreditScore:
		return n >= 300 && n <= 900
	case MonthlyIncome, LoanAmount:
		return n > 0
	case ExistingEMI:
		return n >= 0
	}
	return false
}

// Clone returns a copy so callers can treat extraction as a pure function.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Missing returns the required fields not yet collected, in priority order.
func (m Map) Missing() []Field {
	var out []Field
	for _, f := range Required {
		if _, ok := m[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Complete reports whether every required field is present. Presence
// implies validity: invalid extractions are never stored.
func (m Map) Complete() bool {
	return len(m.Missing()) == 0
}

// Snapshot flattens the map into wire-friendly values for
// structured_data_update and the handoff payload.
func (m Map) Snapshot() map[string]any {
	out := make(map[string]any, len(m))
	for f, v := range m {
		if IsNumeric(f) {
			out[string(f)] = v.Number
		} else {
			out[string(f)] = v.Text
		}
	}
	return out
}
