// cmd/sunscript/main.go
package main

import (
	"fmt"
	"os"
	"time"

	"sunscript/cmd/sunscript/commands"
)

const version = "0.1.0"

// commandAliases mirrors the teacher CLI's short-flag convention
// (cmd/sentra/main.go), narrowed to the handful of subcommands a
// Program Image host needs.
var commandAliases = map[string]string{
	"r": "run",
	"i": "inspect",
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}
	args = args[1:]

	switch cmd {
	case "--help", "-h", "help":
		showUsage()
	case "--version", "-v", "version":
		fmt.Printf("sunscript %s\n", version)
	case "run":
		runCommand(args)
	case "inspect":
		inspectCommand(args)
	default:
		fmt.Fprintf(os.Stderr, "sunscript: unknown command %q\n\n", cmd)
		showUsage()
		os.Exit(1)
	}
}

func runCommand(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: sunscript run <image-file> [--timeout=5s] [--profile-db=path] [--inspect=addr]")
		os.Exit(1)
	}
	opts := commands.RunOptions{ImagePath: args[0]}
	for _, a := range args[1:] {
		switch {
		case hasFlag(a, "--timeout="):
			d, err := time.ParseDuration(flagValue(a))
			if err != nil {
				fmt.Fprintf(os.Stderr, "sunscript: bad --timeout: %v\n", err)
				os.Exit(1)
			}
			opts.Timeout = d
		case hasFlag(a, "--profile-db="):
			opts.ProfileDBPath = flagValue(a)
		case hasFlag(a, "--inspect="):
			opts.InspectAddr = flagValue(a)
		default:
			fmt.Fprintf(os.Stderr, "sunscript: unknown flag %q\n", a)
			os.Exit(1)
		}
	}
	if err := commands.RunCommand(opts); err != nil {
		fmt.Fprintf(os.Stderr, "sunscript: %v\n", err)
		os.Exit(1)
	}
}

func inspectCommand(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: sunscript inspect <image-file>")
		os.Exit(1)
	}
	if err := commands.InspectCommand(commands.InspectOptions{ImagePath: args[0]}); err != nil {
		fmt.Fprintf(os.Stderr, "sunscript: %v\n", err)
		os.Exit(1)
	}
}

func hasFlag(arg, prefix string) bool {
	return len(arg) >= len(prefix) && arg[:len(prefix)] == prefix
}

func flagValue(arg string) string {
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[i+1:]
		}
	}
	return ""
}

func showUsage() {
	fmt.Println("SunScript - stack-based bytecode VM with a tracing JIT optimizer")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sunscript run <file.img> [--timeout=5s] [--profile-db=path] [--inspect=addr]  (alias: r)")
	fmt.Println("  sunscript inspect <file.img>                                                   (alias: i)")
	fmt.Println("  sunscript version")
	fmt.Println("  sunscript help")
}
