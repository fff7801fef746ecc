package fixed

// Delta is a signed change to an Amount.
type Delta struct {
	Abs Amount
	Neg bool
}

// Credit returns a positive delta of a.
func Credit(a Amount) Delta { return Delta{Abs: a} }

// Debit returns a negative delta of a.
func Debit(a Amount) Delta { return Delta{Abs: a, Neg: !a.IsZero()} }

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool { return d.Abs.IsZero() }

// ApplyTo returns a+d. A debit larger than a fails with ErrUnderflow.
func (d Delta) ApplyTo(a Amount) (Amount, error) {
	if d.Neg {
		return a.Sub(d.Abs)
	}
	return a.Add(d.Abs)
}

func (d Delta) String() string {
	if d.Neg {
		return "-" + d.Abs.String()
	}
	return "+" + d.Abs.String()
}
