package trap

import "testing"

func TestClassifyTimer(t *testing.T) {
	if got := Classify(MkInterruptCause(IntSupervisorTimer)); got != KindTimer {
		t.Fatalf("expected KindTimer, got %v", got)
	}
}

func TestClassifySyscall(t *testing.T) {
	if got := Classify(ExcEcallFromUser); got != KindSyscall {
		t.Fatalf("expected KindSyscall, got %v", got)
	}
}

func TestClassifyIllegalAndPageFault(t *testing.T) {
	if got := Classify(ExcIllegalInstr); got != KindIllegal {
		t.Fatalf("expected KindIllegal, got %v", got)
	}
	if got := Classify(ExcStorePageFault); got != KindPageFault {
		t.Fatalf("expected KindPageFault, got %v", got)
	}
}

func TestDelegationSetup(t *testing.T) {
	d := Setup()
	if !d.Delegated(ExcEcallFromUser) {
		t.Fatal("expected ECALL from user delegated")
	}
	if !d.Delegated(MkInterruptCause(IntSupervisorTimer)) {
		t.Fatal("expected supervisor timer interrupt delegated")
	}
	if d.Delegated(ExcEcallFromSuper) {
		t.Fatal("supervisor ECALL should not be delegated (would be handled in M-mode directly)")
	}
}

func TestMachineTimerTrampoline(t *testing.T) {
	clk := NewClock()
	scratch := &MachineScratch{Interval: 1000}
	clk.ProgramNext(scratch.Interval)
	if MachineTimerTrampoline(clk, scratch) {
		t.Fatal("should not fire before mtime reaches mtimecmp")
	}
	clk.Advance(1000)
	if !MachineTimerTrampoline(clk, scratch) {
		t.Fatal("expected trampoline to fire once mtime reaches mtimecmp")
	}
}

func TestTicksIncrementAndWakeup(t *testing.T) {
	woken := false
	prev := WakeupFunc
	WakeupFunc = func(chan_ uintptr) { woken = true }
	defer func() { WakeupFunc = prev }()

	ticks := NewTicks()
	ticks.TimerInterruptHandler(1000)
	if ticks.Count() != 1 {
		t.Fatalf("expected count 1, got %d", ticks.Count())
	}
	if !woken {
		t.Fatal("expected wakeup to be invoked")
	}
}

func TestDecodeIllegalDoesNotPanic(t *testing.T) {
	_ = DecodeIllegal(0xffffffff)
	_ = KilledReason(7, 0x1000, 0xffffffff)
}
