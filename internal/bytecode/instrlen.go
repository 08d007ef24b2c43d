package bytecode

import "sunscript/internal/sunerr"

// OperandLength reports how many bytes follow op's opcode byte at
// code[pos:], so a scan that only needs to skip instructions (load-time
// local counting, a disassembler) never misreads an operand byte as the
// next opcode. realSize is the image's SUN_REAL_SIZE (BuildFlag.RealSize),
// since a real immediate's width is not self-describing.
func OperandLength(op Op, code []byte, pos int, realSize int) (int, error) {
	base := op.Base()
	switch base {
	case OpPush:
		return typedImmediateLength(code, pos, realSize)
	case OpSet:
		// local:u8 + typed immediate
		n, err := typedImmediateLength(code, pos+1, realSize)
		if err != nil {
			return 0, err
		}
		return 1 + n, nil
	case OpLocal:
		if pos+2 > len(code) {
			return 0, sunerr.New(sunerr.ProgramMalformed, "", 0, "truncated OP_LOCAL name length")
		}
		nameLen := int(code[pos]) | int(code[pos+1])<<8
		return 2 + nameLen, nil
	case OpPop, OpPushLocal, OpReturn, OpCallO, OpCallM:
		return 1, nil
	case OpCall, OpCallD, OpYield:
		return 5, nil
	case OpPushFunc:
		return 4, nil
	case OpJump:
		return 3, nil
	case OpDone, OpTableNew, OpTableGet, OpTableSet, OpUnaryMin, OpIncrement,
		OpDecrement, OpAdd, OpSub, OpMul, OpDiv, OpDup, OpFormat, OpCmp:
		return 0, nil
	default:
		return 0, sunerr.New(sunerr.ProgramMalformed, "", 0, "unrecognized opcode during length scan")
	}
}

// typedImmediateLength reads the type tag at code[pos] and reports
// 1 (tag) + the payload length that follows. realSize is the number of
// bytes a TyReal payload occupies under the image's build flag.
func typedImmediateLength(code []byte, pos int, realSize int) (int, error) {
	if pos >= len(code) {
		return 0, sunerr.New(sunerr.ProgramMalformed, "", 0, "truncated immediate")
	}
	switch code[pos] {
	case byte(0x1): // TyInt
		return 1 + 4, nil
	case byte(0x3): // TyReal
		return 1 + realSize, nil
	case byte(0x2): // TyString
		if pos+3 > len(code) {
			return 0, sunerr.New(sunerr.ProgramMalformed, "", 0, "truncated string immediate length")
		}
		strLen := int(code[pos+1]) | int(code[pos+2])<<8
		return 1 + 2 + strLen, nil
	default:
		return 0, sunerr.New(sunerr.ProgramMalformed, "", 0, "unknown immediate type tag")
	}
}
