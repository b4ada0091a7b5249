// Command pdfsign signs PDF documents with detached digital signatures.
//
// Usage:
//
//	pdfsign <command> [options]
//
// Commands:
//
//	generate-key  Generate an ECDSA P-256 key pair
//	sign          Sign a PDF file with a detached signature
//	version       Show version information
//	help          Show help message
//
// Examples:
//
//	# Generate a key pair
//	pdfsign generate-key
//
//	# Sign a PDF
//	pdfsign sign --input input.pdf --output signed.pdf --key private.key
package main

import (
	"os"

	"github.com/aruthen/pdfsign/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/pdfsign
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	os.Exit(cli.Run(os.Args[1:]))
}
