package field

// blankValues are written into output cells that have no source value,
// such as unmatched rows of a join. LOGICAL uses a single space, which is
// how DBF stores an unset logical; it is not a boolean on purpose.
var blankValues = map[Type]any{
	Text:     "",
	Date:     [3]int{0, 0, 0},
	DateTime: nil,
	Integer:  0,
	Numeric:  0,
	Real:     0.0,
	Logical:  " ",
}

var typeOrder = []Type{Text, Date, DateTime, Integer, Numeric, Real, Logical}

// BlankValue returns the neutral value for t. OID is treated as INTEGER;
// unknown types get nil.
func BlankValue(t Type) any {
	if t == OID {
		t = Integer
	}
	return blankValues[t]
}

// Types lists the semantic types that have a blank value, in display order.
func Types() []Type {
	out := make([]Type, len(typeOrder))
	copy(out, typeOrder)
	return out
}
