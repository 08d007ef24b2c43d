package bytecode

import "testing"

func TestOperandLengthPushInt(t *testing.T) {
	code := []byte{byte(OpPush), 0x1, 1, 0, 0, 0}
	n, err := OperandLength(OpPush, code, 1, 8)
	if err != nil {
		t.Fatalf("OperandLength: %v", err)
	}
	if n != 5 {
		t.Fatalf("n = %d, want 5 (1 tag + 4 int bytes)", n)
	}
}

func TestOperandLengthPushString(t *testing.T) {
	code := []byte{byte(OpPush), 0x2, 3, 0, 'h', 'i', '!'}
	n, err := OperandLength(OpPush, code, 1, 8)
	if err != nil {
		t.Fatalf("OperandLength: %v", err)
	}
	if n != 6 {
		t.Fatalf("n = %d, want 6 (1 tag + 2 len + 3 bytes)", n)
	}
}

func TestOperandLengthPushRealSingleVsDouble(t *testing.T) {
	code := []byte{byte(OpPush), 0x3, 0, 0, 0, 0, 0, 0, 0, 0}
	n, err := OperandLength(OpPush, code, 1, 4)
	if err != nil {
		t.Fatalf("OperandLength: %v", err)
	}
	if n != 5 {
		t.Fatalf("n = %d, want 5 (1 tag + 4 real bytes) under BuildFlagSingle", n)
	}

	n, err = OperandLength(OpPush, code, 1, 8)
	if err != nil {
		t.Fatalf("OperandLength: %v", err)
	}
	if n != 9 {
		t.Fatalf("n = %d, want 9 (1 tag + 8 real bytes) under BuildFlagDouble", n)
	}
}

func TestBuildFlagRealSize(t *testing.T) {
	if n, err := BuildFlagSingle.RealSize(); err != nil || n != 4 {
		t.Fatalf("BuildFlagSingle.RealSize() = (%d, %v), want (4, nil)", n, err)
	}
	if n, err := BuildFlagDouble.RealSize(); err != nil || n != 8 {
		t.Fatalf("BuildFlagDouble.RealSize() = (%d, %v), want (8, nil)", n, err)
	}
	if _, err := BuildFlag(0).RealSize(); err == nil {
		t.Fatal("expected error for a build flag with no well-defined real width")
	}
	if _, err := (BuildFlagSingle | BuildFlagDouble).RealSize(); err == nil {
		t.Fatal("expected error when both real-width flags are set")
	}
}

func TestOperandLengthFixedWidthOps(t *testing.T) {
	cases := []struct {
		op   Op
		want int
	}{
		{OpPop, 1}, {OpPushLocal, 1}, {OpReturn, 1}, {OpCallO, 1}, {OpCallM, 1},
		{OpCall, 5}, {OpCallD, 5}, {OpYield, 5},
		{OpPushFunc, 4}, {OpJump, 3},
		{OpDone, 0}, {OpAdd, 0}, {OpCmp, 0}, {OpDup, 0},
	}
	for _, c := range cases {
		code := make([]byte, 10)
		n, err := OperandLength(c.op, code, 1, 8)
		if err != nil {
			t.Fatalf("%v: %v", c.op, err)
		}
		if n != c.want {
			t.Fatalf("%v length = %d, want %d", c.op, n, c.want)
		}
	}
}
