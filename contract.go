package pgts

// RowCount is a contract on the number of rows a statement may return.
type RowCount int

const (
	Any RowCount = iota
	None
	One
	OneOrMore
	OneOrNone
)

func (c RowCount) String() string {
	switch c {
	case None:
		return "none"
	case One:
		return "one"
	case OneOrMore:
		return "one or more"
	case OneOrNone:
		return "one or none"
	default:
		return "any"
	}
}

// Accepts reports whether n rows satisfy the contract.
func (c RowCount) Accepts(n int) bool {
	switch c {
	case None:
		return n == 0
	case One:
		return n == 1
	case OneOrMore:
		return n >= 1
	case OneOrNone:
		return n <= 1
	default:
		return true
	}
}

// Check returns a *RowCountError when n rows violate the contract.
func (c RowCount) Check(n int, stmt Statement, annotation any) error {
	if c.Accepts(n) {
		return nil
	}

	e := &RowCountError{Statement: stmt, Annotation: annotation}
	switch c {
	case None:
		e.Expected, e.Received = "0", ">= 1"
	case One:
		// Zero and many rows both violate One and are reported apart.
		e.Expected = "1"
		if n == 0 {
			e.Received = "0"
		} else {
			e.Received = "> 1"
		}
	case OneOrMore:
		e.Expected, e.Received = ">= 1", "0"
	case OneOrNone:
		e.Expected, e.Received = "0 or 1", "> 1"
	}
	return e
}
