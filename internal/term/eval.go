package term

// ArithOp is the arithmetic op code resolved once at term construction so
// evaluation never string-compares functor names on the hot path.
type ArithOp int

const (
	// OpNone marks a term with no arithmetic meaning.
	OpNone ArithOp = iota
	OpPlus
	OpMinus
	OpMultiply
	OpDivide
	OpMod
	OpAbs
	OpMin
	OpMax
	OpFloat
	OpInteger
	OpLess
	OpGreater
	OpLessEqual
	OpGreaterEqual
	OpArithEqual
	OpArithNotEqual
)

func arithOpFor(name string, arity int) ArithOp {
	switch arity {
	case 1:
		switch name {
		case "abs":
			return OpAbs
		case "float":
			return OpFloat
		case "integer":
			return OpInteger
		}
	case 2:
		switch name {
		case "+":
			return OpPlus
		case "-":
			return OpMinus
		case "*":
			return OpMultiply
		case "/":
			return OpDivide
		case "mod":
			return OpMod
		case "min":
			return OpMin
		case "max":
			return OpMax
		case "<":
			return OpLess
		case ">":
			return OpGreater
		case "=<":
			return OpLessEqual
		case ">=":
			return OpGreaterEqual
		case "=:=":
			return OpArithEqual
		case "=\\=":
			return OpArithNotEqual
		}
	}
	return OpNone
}

// IsArithmetic reports whether the term is an arithmetic compound.
func (t *Term) IsArithmetic() bool { return t.op != OpNone }

// Eval reduces an arithmetic term to a numeric constant, or a comparison to
// the true/false constant. Returns nil when the term is a variable, a
// non-numeric atom, a non-arithmetic compound, or any argument fails to
// evaluate.
//
// Type discipline: int op int stays int for + - * mod min max; division and
// any float operand promote to float. Division by zero yields the integer 0.
func (t *Term) Eval(f *Factory) *Term {
	switch t.ttype {
	case TypeInt, TypeFloat:
		return t
	case TypeAtom, TypeVariable:
		return nil
	}
	if t.op == OpNone {
		return nil
	}

	left := t.args[0].Eval(f)
	if left == nil {
		return nil
	}
	if len(t.args) == 1 {
		return evalUnary(f, t.op, left)
	}
	right := t.args[1].Eval(f)
	if right == nil {
		return nil
	}
	return evalBinary(f, t.op, left, right)
}

func evalUnary(f *Factory, op ArithOp, v *Term) *Term {
	switch op {
	case OpAbs:
		if v.ttype == TypeInt {
			n := v.Int64()
			if n < 0 {
				n = -n
			}
			return f.Int(n)
		}
		x := v.Float64()
		if x < 0 {
			x = -x
		}
		return f.Float(x)
	case OpFloat:
		return f.Float(v.Float64())
	case OpInteger:
		return f.Int(int64(v.Float64()))
	}
	return nil
}

func evalBinary(f *Factory, op ArithOp, left, right *Term) *Term {
	bothInt := left.ttype == TypeInt && right.ttype == TypeInt
	switch op {
	case OpPlus:
		if bothInt {
			return f.Int(left.Int64() + right.Int64())
		}
		return f.Float(left.Float64() + right.Float64())
	case OpMinus:
		if bothInt {
			return f.Int(left.Int64() - right.Int64())
		}
		return f.Float(left.Float64() - right.Float64())
	case OpMultiply:
		if bothInt {
			return f.Int(left.Int64() * right.Int64())
		}
		return f.Float(left.Float64() * right.Float64())
	case OpDivide:
		// Division by zero yields 0, pinned by the reference tests.
		if right.Float64() == 0 {
			return f.Int(0)
		}
		return f.Float(left.Float64() / right.Float64())
	case OpMod:
		if !bothInt {
			return nil
		}
		if right.Int64() == 0 {
			return f.Int(0)
		}
		return f.Int(left.Int64() % right.Int64())
	case OpMin:
		if bothInt {
			if left.Int64() <= right.Int64() {
				return left
			}
			return right
		}
		if left.Float64() <= right.Float64() {
			return f.Float(left.Float64())
		}
		return f.Float(right.Float64())
	case OpMax:
		if bothInt {
			if left.Int64() >= right.Int64() {
				return left
			}
			return right
		}
		if left.Float64() >= right.Float64() {
			return f.Float(left.Float64())
		}
		return f.Float(right.Float64())
	case OpLess:
		return f.boolTerm(left.Float64() < right.Float64())
	case OpGreater:
		return f.boolTerm(left.Float64() > right.Float64())
	case OpLessEqual:
		return f.boolTerm(left.Float64() <= right.Float64())
	case OpGreaterEqual:
		return f.boolTerm(left.Float64() >= right.Float64())
	case OpArithEqual:
		if bothInt {
			return f.boolTerm(left.Int64() == right.Int64())
		}
		return f.boolTerm(left.Float64() == right.Float64())
	case OpArithNotEqual:
		if bothInt {
			return f.boolTerm(left.Int64() != right.Int64())
		}
		return f.boolTerm(left.Float64() != right.Float64())
	}
	return nil
}

func (f *Factory) boolTerm(v bool) *Term {
	if v {
		return f.trueTerm
	}
	return f.falseTerm
}

// ResolveArithmetic rewrites any evaluable arithmetic subterms of t to their
// constant values and leaves everything else alone. Used by the planner so a
// task like travel(-(1,2)) becomes travel(-1) before dispatch.
func (t *Term) ResolveArithmetic(f *Factory) *Term {
	if t.op != OpNone {
		if v := t.Eval(f); v != nil {
			return v
		}
	}
	if len(t.args) == 0 {
		return t
	}
	changed := false
	newArgs := make([]*Term, len(t.args))
	for i, arg := range t.args {
		newArgs[i] = arg.ResolveArithmetic(f)
		if newArgs[i] != arg {
			changed = true
		}
	}
	if !changed {
		return t
	}
	return f.CompoundFromSlice(t.name, newArgs)
}
