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
	"encoding/gob"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chriskeane/casl2go/pkg/asm"
	"github.com/chriskeane/casl2go/pkg/objfile"
	"github.com/chriskeane/casl2go/pkg/symtab"
)

var helpvar bool
var listvar bool
var versionvar bool

const usage = "casl2 [-a] [-v] file.cas"
const version = "casl2go 0.1"

func init() {
	exe, _ := os.Executable()
	log.SetFlags(0)
	log.SetPrefix(fmt.Sprintf("%s: ", filepath.Base(exe)))
	log.SetOutput(os.Stderr)
}

func init() {
	flag.BoolVar(&helpvar, "help", false, "Displays command usage")
	flag.BoolVar(&listvar, "a", false, "Writes an assembler listing to stdout")
	flag.BoolVar(&versionvar, "v", false, "Prints the version and exits")
	flag.Parse()
}

func casl2() int {
	if helpvar {
		fmt.Println(usage)
		return 0
	}

	if versionvar {
		fmt.Println(version)
		return 0
	}

	args := flag.Args()

	if len(args) != 1 {
		log.Println(usage)
		return 1
	}

	srcPath := args[0]

	file, err := os.Open(srcPath)
	if err != nil {
		log.Println(err)
		return 1
	}
	defer file.Close()

	words, entry, st, errs := asm.Assemble(srcPath, file)

	if len(errs) > 0 {
		for _, e := range errs {
			log.Println(e)
		}
		return 1
	}

	outPath := strings.TrimSuffix(srcPath, filepath.Ext(srcPath)) + ".com"

	out, err := os.Create(outPath)
	if err != nil {
		log.Println(err)
		return 1
	}
	defer out.Close()

	if err := objfile.Write(out, entry, words); err != nil {
		log.Println(err)
		return 1
	}

	symPath := strings.TrimSuffix(srcPath, filepath.Ext(srcPath)) + ".sym"
	if symFile, err := os.Create(symPath); err == nil {
		st.Source = srcPath
		if err := gob.NewEncoder(symFile).Encode(st); err != nil {
			log.Println(err)
		}
		symFile.Close()
	}

	if listvar {
		printListing(words, st)
	}

	return 0
}

// printListing writes a word-per-line object dump followed by a stable
// "DEFINED SYMBOLS" table, the way a real assembler's -a listing would.
func printListing(words []uint16, st *symtab.SymTable) {
	for addr, w := range words {
		fmt.Printf("#%04X  %04X\n", addr, w)
	}

	fmt.Println()
	fmt.Println("DEFINED SYMBOLS")

	names := make([]string, 0, len(st.Symbols))
	for name := range st.Symbols {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		li, lj := st.Symbols[names[i]].Line, st.Symbols[names[j]].Line
		if li != lj {
			return li < lj
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		sym := st.Symbols[name]
		fmt.Printf("  #%04X  %s\n", sym.Value, symtab.PrettyName(name))
	}
}

func main() {
	os.Exit(casl2())
}
