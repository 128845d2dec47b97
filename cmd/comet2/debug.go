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

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chriskeane/casl2go/pkg/debugger"
	"github.com/chriskeane/casl2go/pkg/vm"
)

// commandNames lists every REPL command in the order shown by "help".
// Prefix matching (gdb-style: the shortest unambiguous abbreviation is
// accepted) is resolved against this list.
var commandNames = []string{
	"run", "step", "break", "delete", "watch",
	"info", "print", "dump", "stack", "file",
	"jump", "memory", "disasm", "list", "help", "quit",
}

func resolveCommand(word string) (string, error) {
	if word == "" {
		return "", nil
	}

	var matches []string
	for _, name := range commandNames {
		if name == word {
			return name, nil
		}
		if strings.HasPrefix(name, word) {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("Undefined command: \"%s\"", word)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("Ambiguous command \"%s\": %s", word, strings.Join(matches, ", "))
	}
}

func parseAddr(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		v, err := strconv.ParseUint(s[1:], 16, 16)
		return uint16(v), err
	}
	v, err := strconv.ParseUint(s, 10, 16)
	return uint16(v), err
}

// debugRegisters implements the "print" command's bit-exact register
// dump: a PR line annotated with the instruction at PR, an SP/FR line
// with FR rendered as both a 3-bit binary string and its decimal value,
// then GR0..GR7 as two rows of four #hex(decimal) pairs.
func debugRegisters(mc *vm.Machine) {
	r := mc.Registers
	mnemonic, operand, _ := vm.Disassemble(&mc.Memory, r.PR)

	fmt.Printf("PR  #%04X [ %-9s%-16s]\n", r.PR, mnemonic, operand)
	fmt.Printf("SP  #%04X(%6d)  FR  %03b  (%5d)\n", r.SP, r.SP, r.FR.Bits(), r.FR.Bits())
	fmt.Printf("GR0 #%04X(%5d)  GR1 #%04X(%5d)  GR2 #%04X(%5d)  GR3 #%04X(%5d)\n",
		r.GR[0], int16(r.GR[0]), r.GR[1], int16(r.GR[1]), r.GR[2], int16(r.GR[2]), r.GR[3], int16(r.GR[3]))
	fmt.Printf("GR4 #%04X(%5d)  GR5 #%04X(%5d)  GR6 #%04X(%5d)  GR7 #%04X(%5d)\n",
		r.GR[4], int16(r.GR[4]), r.GR[5], int16(r.GR[5]), r.GR[6], int16(r.GR[6]), r.GR[7], int16(r.GR[7]))
}

func debugListCurrent(dbg *debugger.Debugger, mc *vm.Machine) {
	mnemonic, operand, _ := vm.Disassemble(&mc.Memory, mc.Registers.PR)
	if operand == "" {
		fmt.Printf("#%04X: %s\n", mc.Registers.PR, mnemonic)
	} else {
		fmt.Printf("#%04X: %s %s\n", mc.Registers.PR, mnemonic, operand)
	}
}

func handleBreak(mc *vm.Machine) {
	fmt.Println()
	fmt.Printf("Stopped at #%04X\n", mc.Registers.PR)
	debugListCurrent(globalDebugger, mc)
	debugREPL(globalDebugger, mc)
}

func handleRead(addr uint16, mc *vm.Machine) {
	fmt.Printf("\nWatchpoint: read #%04X\n", addr)
	debugREPL(globalDebugger, mc)
}

func handleWrite(addr uint16, mc *vm.Machine) {
	fmt.Printf("\nWatchpoint: write #%04X (now #%04X)\n", addr, mc.Memory[addr])
	debugREPL(globalDebugger, mc)
}

// globalDebugger lets the vm.Hooks callbacks, which the vm package calls
// with only a *vm.Machine, reach back into the REPL's own state. It is
// set once in comet2() before the machine ever runs.
var globalDebugger *debugger.Debugger

var lastCommand string

// debugREPL is the read-eval loop: a blank line repeats the previous
// command, matching the teacher's debug console.
func debugREPL(dbg *debugger.Debugger, mc *vm.Machine) {
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("(comet2) ")

		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			line = lastCommand
		}
		if line == "" {
			continue
		}
		lastCommand = line

		fields := strings.Fields(line)
		cmd, err := resolveCommand(fields[0])
		if err != nil {
			fmt.Println(err)
			continue
		}

		args := fields[1:]

		switch cmd {
		case "quit":
			exitRawTerm()
			os.Exit(0)

		case "help":
			fmt.Println(strings.Join(commandNames, " "))

		case "run":
			// Hooks are detached for the duration of the loop: dbg.Step
			// would otherwise fire HandleBreak (and recurse into this
			// same REPL) the instant a breakpoint is reached, instead of
			// letting run's own loop stop cleanly and print once.
			hooks := mc.Hooks
			mc.Hooks = nil
			for !mc.Halted {
				if _, err := mc.Step(); err != nil {
					fmt.Println(err)
					break
				}
				hit := false
				for _, bp := range dbg.Breakpoints {
					if mc.Registers.PR == bp.Addr {
						hit = true
						break
					}
				}
				if hit {
					break
				}
			}
			mc.Hooks = hooks
			debugRegisters(mc)
			if mc.Halted {
				return
			}

		case "step":
			n := 1
			if len(args) > 0 {
				if v, err := strconv.Atoi(args[0]); err == nil {
					n = v
				}
			}
			for i := 0; i < n && !mc.Halted; i++ {
				if _, err := mc.Step(); err != nil {
					fmt.Println(err)
					break
				}
			}
			debugRegisters(mc)

		case "break":
			if len(args) != 1 {
				fmt.Println("usage: break <addr>")
				continue
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				fmt.Println(err)
				continue
			}
			dbg.AddBreakpoint(addr)

		case "watch":
			if len(args) != 2 {
				fmt.Println("usage: watch <addr> <read|write>")
				continue
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				fmt.Println(err)
				continue
			}
			typ := debugger.ReadWatch
			if args[1] == "write" {
				typ = debugger.WriteWatch
			}
			dbg.AddWatchpoint(addr, typ)

		case "delete":
			if len(args) == 0 {
				fmt.Print("Delete all breakpoints? (y or n) ")
				confirm, err := reader.ReadString('\n')
				if err != nil {
					fmt.Println()
					return
				}
				if strings.TrimSpace(confirm) == "y" {
					dbg.Breakpoints = nil
				}
				continue
			}
			idx, err := strconv.Atoi(args[0])
			if err != nil || idx < 0 || idx >= len(dbg.Breakpoints) {
				fmt.Printf("No breakpoint number %s.\n", args[0])
				continue
			}
			dbg.Breakpoints = append(dbg.Breakpoints[:idx], dbg.Breakpoints[idx+1:]...)

		case "info":
			fmt.Println("Breakpoints:")
			for i, bp := range dbg.Breakpoints {
				fmt.Printf("  %d  #%04X\n", i, bp.Addr)
			}
			fmt.Println("Watchpoints:")
			for _, wp := range dbg.Watchpoints {
				fmt.Printf("  #%04X\n", wp.Addr)
			}

		case "print":
			debugRegisters(mc)

		case "dump":
			addr := mc.Registers.PR
			if len(args) > 0 {
				if a, err := parseAddr(args[0]); err == nil {
					addr = a
				}
			}
			dbg.PrintMem(mc, addr, 16)

		case "memory":
			if len(args) != 2 {
				fmt.Println("usage: memory <addr> <val>")
				continue
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				fmt.Println(err)
				continue
			}
			val, err := parseAddr(args[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			mc.Memory[addr] = val
			debugRegisters(mc)

		case "stack":
			dbg.PrintMem(mc, mc.Registers.SP, 16)

		case "file":
			if len(args) != 1 {
				fmt.Println("usage: file <path>")
				continue
			}
			if err := loadObjectFile(mc, dbg, args[0]); err != nil {
				fmt.Println(err)
				continue
			}
			debugRegisters(mc)

		case "jump":
			if len(args) != 1 {
				fmt.Println("usage: jump <addr>")
				continue
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				fmt.Println(err)
				continue
			}
			mc.Registers.PR = addr
			debugRegisters(mc)

		case "disasm":
			addr := mc.Registers.PR
			if len(args) > 0 {
				if a, err := parseAddr(args[0]); err == nil {
					addr = a
				}
			}
			for i := 0; i < 16; i++ {
				mnemonic, operand, size := vm.Disassemble(&mc.Memory, addr)
				if operand == "" {
					fmt.Printf("#%04X: %s\n", addr, mnemonic)
				} else {
					fmt.Printf("#%04X: %s %s\n", addr, mnemonic, operand)
				}
				addr += uint16(size)
			}

		case "list":
			if dbg.Source != nil {
				dbg.PrintSource(mc.Registers.PR, 10)
			} else {
				debugListCurrent(dbg, mc)
			}
		}
	}
}
