// Package cli implements the pdfsign command-line tool.
package cli

import (
	"fmt"
	"os"
)

// Version information, set at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Run executes the CLI with the given arguments (excluding the program
// name) and returns the process exit code.
func Run(args []string) int {
	if len(args) < 1 {
		Usage()
		return 1
	}

	switch command := args[0]; command {
	case "generate-key":
		return GenerateKeyCommand(args[1:])
	case "sign":
		return SignCommand(args[1:])
	case "version":
		VersionCommand()
		return 0
	case "help", "-h", "--help":
		Usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
		return 1
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("pdfsign - PDF digital signature tool\n\n")
	fmt.Printf("Usage: %s <command> [options]\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  generate-key  Generate an ECDSA P-256 key pair")
	fmt.Println("  sign          Sign a PDF file with a detached signature")
	fmt.Println("  version       Show version information")
	fmt.Println("  help          Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s generate-key\n", os.Args[0])
	fmt.Printf("  %s sign --input input.pdf --output signed.pdf --key private.key\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("pdfsign version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}
