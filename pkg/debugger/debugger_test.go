// Copyright (C) 2021  Antonio Lassandro

// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.

// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.

// You should have received a copy of the GNU General Public License along
// with this program.  If not, see <http://www.gnu.org/licenses/>.

package debugger

import (
	"testing"

	"github.com/chriskeane/casl2go/pkg/vm"
)

func TestAddBreakpointDedups(t *testing.T) {
	var dbg Debugger
	dbg.AddBreakpoint(0x10)
	dbg.AddBreakpoint(0x10)

	if len(dbg.Breakpoints) != 1 {
		t.Fatalf("got %d breakpoints, want 1", len(dbg.Breakpoints))
	}
}

func TestDeleteBreakpoint(t *testing.T) {
	var dbg Debugger
	dbg.AddBreakpoint(0x10)
	dbg.AddBreakpoint(0x20)
	dbg.DeleteBreakpoint(0x10)

	if len(dbg.Breakpoints) != 1 || dbg.Breakpoints[0].Addr != 0x20 {
		t.Fatalf("got %+v, want only #0020", dbg.Breakpoints)
	}
}

func TestStepFiresOnBreakpoint(t *testing.T) {
	var dbg Debugger
	dbg.AddBreakpoint(0x10)

	var fired bool
	dbg.HandleBreak = func(mc *vm.Machine) { fired = true }

	var mc vm.Machine
	mc.Registers.PR = 0x10
	dbg.Step(&mc)

	if !fired {
		t.Fatalf("expected HandleBreak to fire at a matching breakpoint")
	}
}

func TestStepDoesNotFireOffBreakpoint(t *testing.T) {
	var dbg Debugger
	dbg.AddBreakpoint(0x10)

	var fired bool
	dbg.HandleBreak = func(mc *vm.Machine) { fired = true }

	var mc vm.Machine
	mc.Registers.PR = 0x20
	dbg.Step(&mc)

	if fired {
		t.Fatalf("did not expect HandleBreak to fire away from any breakpoint")
	}
}

func TestReadWatchpointOnlyFiresForReadType(t *testing.T) {
	var dbg Debugger
	dbg.AddWatchpoint(0x30, WriteWatch)

	var fired bool
	dbg.HandleRead = func(addr uint16, mc *vm.Machine) { fired = true }

	var mc vm.Machine
	dbg.Read(&mc, 0x30)

	if fired {
		t.Fatalf("a write-only watchpoint must not fire on read")
	}
}

func TestWriteWatchpointFires(t *testing.T) {
	var dbg Debugger
	dbg.AddWatchpoint(0x30, WriteWatch)

	var fired bool
	dbg.HandleWrite = func(addr uint16, mc *vm.Machine) { fired = true }

	var mc vm.Machine
	dbg.Write(&mc, 0x30)

	if !fired {
		t.Fatalf("expected HandleWrite to fire at a matching write watchpoint")
	}
}

func TestBreakFlagFiresOnceThenClears(t *testing.T) {
	var dbg Debugger
	dbg.Break = true

	var calls int
	dbg.HandleBreak = func(mc *vm.Machine) { calls++ }

	var mc vm.Machine
	dbg.Step(&mc)
	dbg.Step(&mc)

	if calls != 1 {
		t.Fatalf("got %d calls, want 1 (Break clears itself after firing)", calls)
	}
}
