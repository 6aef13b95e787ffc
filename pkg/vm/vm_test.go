package vm

import (
	stderrors "errors"
	"testing"
)

func mustRun(t *testing.T, prog *Program, input []Word) *VM {
	t.Helper()
	m := NewVM()
	if err := m.Load(prog); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	m.SetInput(input)
	if err := m.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return m
}

// Scenario 1: echo positive sum. Reads n, sums 1..n while n>0, writes the
// sum, reads again. Input [3, 5, 0] -> output ["6", "15"].
func TestScenario_EchoPositiveSum(t *testing.T) {
	prog := &Program{Code: []Instruction{
		/*0*/ Nullary(Read),
		/*1*/ Unary(StoG, 3), // n
		/*2*/ Unary(LoadG, 3),
		/*3*/ Unary(FJmp, 21), // halt
		/*4*/ Unary(Const, 0),
		/*5*/ Unary(StoG, 4), // sum
		/*6*/ Unary(LoadG, 3), // loop:
		/*7*/ Unary(FJmp, 17), // done
		/*8*/ Unary(LoadG, 4),
		/*9*/ Unary(LoadG, 3),
		/*10*/ Nullary(Add),
		/*11*/ Unary(StoG, 4),
		/*12*/ Unary(LoadG, 3),
		/*13*/ Unary(Const, 1),
		/*14*/ Nullary(Sub),
		/*15*/ Unary(StoG, 3),
		/*16*/ Unary(Jmp, 6),
		/*17*/ Unary(LoadG, 4), // done:
		/*18*/ Nullary(Write),
		/*19*/ Nullary(Print),
		/*20*/ Unary(Jmp, 0),
		/*21*/ Nullary(Halt), // halt:
	}}

	m := mustRun(t, prog, []Word{3, 5, 0})
	got := m.Output()
	want := []string{"6", "15"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// Scenario 2: nested scope load. Outer declares local x=7; inner does
// Load 1 0 to reach it. Output ["7"].
func TestScenario_NestedScopeLoad(t *testing.T) {
	prog := &Program{Code: []Instruction{
		/*0*/ Binary(Call, 0, 2), // main calls outer
		/*1*/ Nullary(Halt),
		/*2*/ Unary(Enter, 1), // outer:
		/*3*/ Unary(Const, 7),
		/*4*/ Binary(Sto, 0, 0),
		/*5*/ Binary(Call, 0, 8), // outer calls inner
		/*6*/ Nullary(Leave),
		/*7*/ Nullary(Ret),
		/*8*/ Unary(Enter, 0), // inner:
		/*9*/ Binary(Load, 1, 0),
		/*10*/ Nullary(Write),
		/*11*/ Nullary(Print),
		/*12*/ Nullary(Leave),
		/*13*/ Nullary(Ret),
	}}

	m := mustRun(t, prog, nil)
	if got := m.Output(); len(got) != 1 || got[0] != "7" {
		t.Fatalf("expected [\"7\"], got %v", got)
	}
}

// Scenario 3: recursion via static link. factorial(5), input empty,
// output ["120"].
func TestScenario_FactorialRecursion(t *testing.T) {
	// Recursion via a fixed argument/result relay (D[0]/D[1]) rather than
	// a stack-passed parameter list: the callee copies the argument into
	// its own local on entry, before any nested call can overwrite the
	// relay slot, and likewise stores its result there just before Ret.
	// This keeps the relay correct across arbitrary recursion depth even
	// though it is a single shared cell, the same way a fixed
	// argument/return register works on a real machine.
	//
	//   fact(n): if n<=1 return 1 else return n*fact(n-1)
	prog := &Program{Code: []Instruction{
		/*0*/ Unary(Const, 5),
		/*1*/ Unary(StoG, 3), // ARG (D[0]) = 5
		/*2*/ Binary(Call, 0, 7), // fact
		/*3*/ Unary(LoadG, 4), // RES (D[1])
		/*4*/ Nullary(Write),
		/*5*/ Nullary(Print),
		/*6*/ Nullary(Halt),

		/*7 fact:*/ Unary(Enter, 1), // local 0 = n
		/*8*/ Unary(LoadG, 3), // ARG
		/*9*/ Binary(Sto, 0, 0), // n = ARG
		/*10*/ Binary(Load, 0, 0), // n
		/*11*/ Unary(Const, 1),
		/*12*/ Nullary(LssEq), // n<=1
		/*13*/ Unary(FJmp, 18), // false (n>1) -> recurse

		/*14 base:*/ Unary(Const, 1),
		/*15*/ Unary(StoG, 4), // RES = 1
		/*16*/ Nullary(Leave),
		/*17*/ Nullary(Ret),

		/*18 recurse:*/ Binary(Load, 0, 0), // n
		/*19*/ Unary(Const, 1),
		/*20*/ Nullary(Sub), // n-1
		/*21*/ Unary(StoG, 3), // ARG = n-1
		/*22*/ Binary(Call, 0, 7),
		/*23*/ Binary(Load, 0, 0), // n (own local, unaffected by the nested call)
		/*24*/ Unary(LoadG, 4), // RES = fact(n-1)
		/*25*/ Nullary(Mul),
		/*26*/ Unary(StoG, 4), // RES = n * fact(n-1)
		/*27*/ Nullary(Leave),
		/*28*/ Nullary(Ret),
	}}

	m := mustRun(t, prog, nil)
	if got := m.Output(); len(got) != 1 || got[0] != "120" {
		t.Fatalf("expected [\"120\"], got %v", got)
	}
}

// Scenario 4: 2-D array indexing. int a[2][3]; store 42 at a[1][2]; load
// it back. Output ["42"]. Offset = 1*3+2 = 5.
func TestScenario_ArrayIndexing2D(t *testing.T) {
	prog := &Program{Code: []Instruction{
		// StoArr: v, dim[0], dim[1], idx[0], idx[1]
		/*0*/ Unary(Const, 42), // v
		/*1*/ Unary(Const, 2), // dim[0]
		/*2*/ Unary(Const, 3), // dim[1]
		/*3*/ Unary(Const, 1), // idx[0]
		/*4*/ Unary(Const, 2), // idx[1]
		/*5*/ Binary(StoArr, 3, 2), // D[3-3+offset] = D[0+offset]
		// LoadArr: dim[0], dim[1], idx[0], idx[1]
		/*6*/ Unary(Const, 2),
		/*7*/ Unary(Const, 3),
		/*8*/ Unary(Const, 1),
		/*9*/ Unary(Const, 2),
		/*10*/ Binary(LoadArr, 3, 2),
		/*11*/ Nullary(Write),
		/*12*/ Nullary(Print),
		/*13*/ Nullary(Halt),
	}}

	m := mustRun(t, prog, nil)
	if got := m.Output(); len(got) != 1 || got[0] != "42" {
		t.Fatalf("expected [\"42\"], got %v", got)
	}
	v, err := m.DataAt(5)
	if err != nil {
		t.Fatalf("DataAt failed: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected D[5]=42 at offset 5, got %d", v)
	}
}

// Scenario 5: out-of-bounds store faults with IndexOutOfBounds.
func TestScenario_ArrayOutOfBounds(t *testing.T) {
	prog := &Program{Code: []Instruction{
		/*0*/ Unary(Const, 7), // v
		/*1*/ Unary(Const, 2), // dim[0]
		/*2*/ Unary(Const, 3), // dim[1]
		/*3*/ Unary(Const, 2), // idx[0] = 2, out of bounds for dim 2
		/*4*/ Unary(Const, 0), // idx[1]
		/*5*/ Binary(StoArr, 3, 2),
		/*6*/ Nullary(Halt),
	}}

	m := NewVM()
	if err := m.Load(prog); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	err := m.Execute()
	if err == nil {
		t.Fatal("expected an IndexOutOfBounds fault")
	}
	var f *Fault
	if !stderrors.As(err, &f) {
		t.Fatalf("expected a *Fault, got %v (%T)", err, err)
	}
	if f.Kind != IndexOutOfBounds {
		t.Fatalf("expected IndexOutOfBounds, got %v", f.Kind)
	}
	if f.PC != 5 {
		t.Fatalf("expected fault reported at pc=5, got %d", f.PC)
	}
}

// Scenario 6: string print. "Hi" laid out last-char-first with the
// terminator at the lowest index, ptr at the highest character.
func TestScenario_StringPrint(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Unary(Const, 5), // ptr = 5 -> D[ptr-3] = D[2]
		Nullary(WriteS),
		Nullary(Print),
		Nullary(Halt),
	}}
	m := NewVM()
	if err := m.Load(prog); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Lay out "Hi" last-char-first: the walk starts at D[ptr-3]=D[2] and
	// reads downward, so the highest index holds the first character.
	// D[2]='H', D[1]='i', D[0]=0 (terminator).
	if err := m.storeData(0, 0); err != nil {
		t.Fatalf("storeData failed: %v", err)
	}
	if err := m.storeData(1, Word('i')); err != nil {
		t.Fatalf("storeData failed: %v", err)
	}
	if err := m.storeData(2, Word('H')); err != nil {
		t.Fatalf("storeData failed: %v", err)
	}
	if err := m.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := m.Output(); len(got) != 1 || got[0] != "Hi" {
		t.Fatalf("expected [\"Hi\"], got %v", got)
	}
}

func TestInvariant_FollowChainZeroIsIdentity(t *testing.T) {
	m := NewVM()
	m.BP = 42
	got, err := m.followChain(0, m.BP)
	if err != nil {
		t.Fatalf("followChain failed: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected followChain(0, bp) == bp, got %d", got)
	}
}

func TestInvariant_CallEnterLeaveRetRoundTrip(t *testing.T) {
	prog := &Program{Code: []Instruction{
		/*0*/ Binary(Call, 0, 2),
		/*1*/ Nullary(Halt),
		/*2*/ Unary(Enter, 3), // proc:
		/*3*/ Nullary(Leave),
		/*4*/ Nullary(Ret),
	}}
	m := NewVM()
	if err := m.Load(prog); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	pcBeforeCall, topBeforeCall, bpBeforeCall := m.PC, m.TOP, m.BP

	for i := 0; i < 4; i++ { // Call, Enter, Leave, Ret
		halted, err := m.Step()
		if err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
		if halted {
			t.Fatalf("halted early at step %d", i)
		}
	}

	if m.PC != pcBeforeCall+1 {
		t.Errorf("expected PC=%d after Ret, got %d", pcBeforeCall+1, m.PC)
	}
	if m.TOP != topBeforeCall {
		t.Errorf("expected TOP=%d after Ret, got %d", topBeforeCall, m.TOP)
	}
	if m.BP != bpBeforeCall {
		t.Errorf("expected BP=%d after Ret, got %d", bpBeforeCall, m.BP)
	}
}

func TestArithmetic_WrapsModulo16Bit(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Unary(Const, 32767),
		Unary(Const, 1),
		Nullary(Add),
		Nullary(Write),
		Nullary(Print),
		Nullary(Halt),
	}}
	m := mustRun(t, prog, nil)
	if got := m.Output(); len(got) != 1 || got[0] != "-32768" {
		t.Fatalf("expected wraparound to -32768, got %v", got)
	}
}

func TestNeg_IsBitwiseComplementNotArithmeticNegation(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Unary(Const, 5),
		Nullary(Neg),
		Nullary(Write),
		Nullary(Print),
		Nullary(Halt),
	}}
	m := mustRun(t, prog, nil)
	// ^5 == -6 in two's complement, not -5.
	if got := m.Output(); len(got) != 1 || got[0] != "-6" {
		t.Fatalf("expected -6 (bitwise complement of 5), got %v", got)
	}
}

func TestNeg_DoubleComplementIsIdentity(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Unary(Const, 5),
		Nullary(Neg),
		Nullary(Neg),
		Nullary(Write),
		Nullary(Print),
		Nullary(Halt),
	}}
	m := mustRun(t, prog, nil)
	if got := m.Output(); len(got) != 1 || got[0] != "5" {
		t.Fatalf("expected 5 after double complement, got %v", got)
	}
}

func TestDup_DuplicatesTopOfStack(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Unary(Const, 9),
		Nullary(Dup),
		Nullary(Add), // 9+9=18
		Nullary(Write),
		Nullary(Print),
		Nullary(Halt),
	}}
	m := mustRun(t, prog, nil)
	if got := m.Output(); len(got) != 1 || got[0] != "18" {
		t.Fatalf("expected 18, got %v", got)
	}
}

func TestFJmp_ZeroTakesBranchNonzeroFallsThrough(t *testing.T) {
	prog := &Program{Code: []Instruction{
		/*0*/ Unary(Const, 0),
		/*1*/ Unary(FJmp, 4), // zero -> branch taken
		/*2*/ Unary(Const, 111),
		/*3*/ Unary(Jmp, 5),
		/*4*/ Unary(Const, 222),
		/*5*/ Nullary(Write),
		/*6*/ Nullary(Print),
		/*7*/ Nullary(Halt),
	}}
	m := mustRun(t, prog, nil)
	if got := m.Output(); len(got) != 1 || got[0] != "222" {
		t.Fatalf("expected branch taken (222), got %v", got)
	}

	fallthroughProg := &Program{Code: []Instruction{
		/*0*/ Unary(Const, -5), // nonzero, including negative
		/*1*/ Unary(FJmp, 4),
		/*2*/ Unary(Const, 111),
		/*3*/ Unary(Jmp, 5),
		/*4*/ Unary(Const, 222),
		/*5*/ Nullary(Write),
		/*6*/ Nullary(Print),
		/*7*/ Nullary(Halt),
	}}
	m2 := mustRun(t, fallthroughProg, nil)
	if got := m2.Output(); len(got) != 1 || got[0] != "111" {
		t.Fatalf("expected fallthrough (111) for negative value, got %v", got)
	}
}

func TestRead_InputExhaustedFaults(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Nullary(Read),
		Nullary(Halt),
	}}
	m := NewVM()
	if err := m.Load(prog); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	err := m.Execute()
	var f *Fault
	if !stderrors.As(err, &f) || f.Kind != InputExhausted {
		t.Fatalf("expected InputExhausted fault, got %v", err)
	}
}

func TestWriteS_NullPointerFaults(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Unary(Const, 0),
		Nullary(WriteS),
		Nullary(Halt),
	}}
	m := NewVM()
	if err := m.Load(prog); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	err := m.Execute()
	var f *Fault
	if !stderrors.As(err, &f) || f.Kind != NullStringPointer {
		t.Fatalf("expected NullStringPointer fault, got %v", err)
	}
}

func TestRet_EmptyCallChainHalts(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Unary(Const, 0), // fake return address
		Nullary(Ret),
	}}
	m := mustRun(t, prog, nil)
	if len(m.Output()) != 0 {
		t.Fatalf("expected no output, got %v", m.Output())
	}
}

func TestIllegalInstruction_PastEndOfProgram(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Nullary(Nop),
	}}
	m := NewVM()
	if err := m.Load(prog); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	err := m.Execute()
	var f *Fault
	if !stderrors.As(err, &f) || f.Kind != IllegalInstruction {
		t.Fatalf("expected IllegalInstruction fault, got %v", err)
	}
}

func TestDivideByZero_Faults(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Unary(Const, 5),
		Unary(Const, 0),
		Nullary(Div),
		Nullary(Halt),
	}}
	m := NewVM()
	if err := m.Load(prog); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	err := m.Execute()
	var f *Fault
	if !stderrors.As(err, &f) || f.Kind != DivideByZero {
		t.Fatalf("expected DivideByZero fault, got %v", err)
	}
}

func TestDiv_FlooredTowardNegativeInfinity(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Unary(Const, -7),
		Unary(Const, 2),
		Nullary(Div), // -7 / 2 truncates to -3, floors to -4
		Nullary(Write),
		Nullary(Print),
		Nullary(Halt),
	}}
	m := mustRun(t, prog, nil)
	if got := m.Output(); len(got) != 1 || got[0] != "-4" {
		t.Fatalf("expected floored -4, got %v", got)
	}
}

func TestWrite_LeavesTOPUnchanged(t *testing.T) {
	prog := &Program{Code: []Instruction{
		Unary(Const, 1),
		Nullary(Write),
	}}
	m := NewVM()
	if err := m.Load(prog); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	topBefore := m.TOP
	if _, err := m.Step(); err != nil { // Const 1
		t.Fatalf("Step failed: %v", err)
	}
	topAfterConst := m.TOP
	if _, err := m.Step(); err != nil { // Write
		t.Fatalf("Step failed: %v", err)
	}
	if m.TOP != topAfterConst {
		t.Fatalf("expected Write to leave TOP at %d, got %d", topAfterConst, m.TOP)
	}
	_ = topBefore
}
