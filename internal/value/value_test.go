package value

import (
	"testing"

	"sunscript/internal/memory"
)

func TestBoxAsRoundTrip(t *testing.T) {
	mm := memory.NewManager()

	i := BoxInt(42)
	if !IsInt(i) || AsInt(i) != 42 {
		t.Fatalf("BoxInt round trip failed: %+v", i)
	}

	r := BoxReal(3.5)
	if !IsReal(r) || AsReal(r) != 3.5 {
		t.Fatalf("BoxReal round trip failed: %+v", r)
	}

	s := BoxString(mm, "hello")
	so, err := AsString(mm, s)
	if err != nil {
		t.Fatalf("AsString: %v", err)
	}
	if so.S != "hello" {
		t.Fatalf("AsString = %q, want hello", so.S)
	}
}

func TestAsStringRejectsWrongTag(t *testing.T) {
	mm := memory.NewManager()
	if _, err := AsString(mm, BoxInt(1)); err == nil {
		t.Fatal("expected TypeMismatch for non-string value")
	}
}

func TestEqualPromotesIntToReal(t *testing.T) {
	mm := memory.NewManager()
	eq, err := Equal(mm, BoxInt(2), BoxReal(2.0))
	if err != nil {
		t.Fatalf("Equal: %v", err)
	}
	if !eq {
		t.Fatal("expected int(2) == real(2.0)")
	}
}

func TestIsTruthy(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{BoxVoid(), false},
		{BoxInt(0), false},
		{BoxInt(1), true},
		{BoxReal(0), false},
		{BoxReal(0.1), true},
	}
	for _, c := range cases {
		if got := IsTruthy(c.v); got != c.want {
			t.Errorf("IsTruthy(%+v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestTableArrayAndHashPortions(t *testing.T) {
	tbl := NewTable()
	tbl.SetArray(0, BoxInt(1))
	tbl.SetArray(1, BoxInt(2))
	tbl.SetHash("name", BoxInt(3))

	sum := AsInt(tbl.GetArray(0)) + AsInt(tbl.GetArray(1)) + AsInt(tbl.GetHash("name"))
	if sum != 6 {
		t.Fatalf("sum = %d, want 6", sum)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
}

func TestBoxTableThroughManager(t *testing.T) {
	mm := memory.NewManager()
	v := BoxTable(mm)
	tbl, err := AsTable(mm, v)
	if err != nil {
		t.Fatalf("AsTable: %v", err)
	}
	tbl.SetArray(0, BoxInt(7))
	if AsInt(tbl.GetArray(0)) != 7 {
		t.Fatal("table mutation through arena pointer did not persist")
	}
}
