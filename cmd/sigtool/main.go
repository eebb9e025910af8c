package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/taulang/tau/internal/generics"
	"github.com/taulang/tau/internal/mangle"
	"github.com/taulang/tau/internal/sigcode"
	"github.com/taulang/tau/internal/sigfile"
	"github.com/taulang/tau/internal/solver"
)

func main() {
	// Catch panics and show a user-friendly error
	defer func() {
		if r := recover(); r != nil {
			if os.Getenv("DEBUG") == "1" {
				panic(r) // Re-panic to get stack trace
			}
			fmt.Fprintf(os.Stderr, "sigtool: internal error: %v\n", r)
			os.Exit(1)
		}
	}()

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "dump":
		return runDump(args[1:], stdout, stderr)
	case "demangle":
		return runDemangle(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	}
	fmt.Fprintf(stderr, "sigtool: unknown command %q\n", args[0])
	usage(stderr)
	return 2
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: sigtool <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  dump [-scope module] [-mangle] [-encode] <file.yaml>")
	fmt.Fprintln(w, "        load a signature description and print its canonical")
	fmt.Fprintln(w, "        and mangling forms")
	fmt.Fprintln(w, "  demangle <symbol>")
	fmt.Fprintln(w, "        parse a mangled symbol back into its components")
}

// runDump loads a description, builds its signature and prints the sugared
// form, the canonical form and the minimized mangling form for the chosen
// scope. Violations the core reports by panicking (conflicting constraints,
// malformed closures) surface as ordinary errors here.
func runDump(args []string, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "sigtool: %v\n", r)
			code = 1
		}
	}()

	var scopeName, file string
	var withSymbol, withEncoded bool
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-scope" || arg == "--scope":
			i++
			if i == len(args) {
				fmt.Fprintln(stderr, "sigtool: -scope needs a module name")
				return 2
			}
			scopeName = args[i]
		case arg == "-mangle" || arg == "--mangle":
			withSymbol = true
		case arg == "-encode" || arg == "--encode":
			withEncoded = true
		case strings.HasPrefix(arg, "-"):
			fmt.Fprintf(stderr, "sigtool: unknown flag %q\n", arg)
			return 2
		default:
			if file != "" {
				fmt.Fprintln(stderr, "sigtool: dump takes one description file")
				return 2
			}
			file = arg
		}
	}
	if file == "" {
		fmt.Fprintln(stderr, "Usage: sigtool dump [-scope module] [-mangle] [-encode] <file.yaml>")
		return 2
	}

	doc, err := sigfile.Load(file)
	if err != nil {
		fmt.Fprintf(stderr, "sigtool: %v\n", err)
		return 1
	}

	ctx := generics.NewContext(solver.New())
	sig, mod, err := doc.Build(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "sigtool: %v\n", err)
		return 1
	}

	scope := mod
	if scopeName != "" && scopeName != mod.Name {
		scope = generics.NewModule(scopeName)
	}

	color := useColor(stdout)
	printLine(stdout, color, "signature", sig.String())
	printLine(stdout, color, "canonical", sig.CanonicalSignature().String())
	printLine(stdout, color, "mangling", fmt.Sprintf("(scope %s)", scope))
	mangling := sig.CanonicalManglingSignature(scope)
	for _, req := range mangling.Requirements() {
		fmt.Fprintf(stdout, "  %s\n", req)
	}

	if withSymbol {
		name := doc.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}
		printLine(stdout, color, "symbol", mangle.Symbol(mod, name, sig, scope))
	}
	if withEncoded {
		data := sigcode.Marshal(sig)
		printLine(stdout, color, "encoded", fmt.Sprintf("%d bytes %x", len(data), data))
	}
	return 0
}

func runDemangle(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: sigtool demangle <symbol>")
		return 2
	}
	d, err := mangle.Demangle(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "sigtool: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, d)
	for _, req := range d.Requirements {
		fmt.Fprintf(stdout, "  %s\n", req)
	}
	return 0
}

func printLine(w io.Writer, color bool, label, value string) {
	padded := fmt.Sprintf("%-10s", label)
	if color {
		padded = "\033[1m" + padded + "\033[0m"
	}
	fmt.Fprintf(w, "%s %s\n", padded, value)
}

// useColor follows the NO_COLOR convention and only colors real terminals.
func useColor(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
