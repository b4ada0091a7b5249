package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/aruthen/pdfsign/keys"
)

// GenerateKeyCommand implements the 'generate-key' command.
func GenerateKeyCommand(args []string) int {
	flags := flag.NewFlagSet("generate-key", flag.ContinueOnError)

	var outDir string
	flags.StringVar(&outDir, "out", ".", "Directory to write the key files to")

	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: %s generate-key [options]\n\n", os.Args[0])
		fmt.Fprintln(flags.Output(), "Generate an ECDSA P-256 key pair and write it as raw key files.")
		fmt.Fprintln(flags.Output(), "")
		fmt.Fprintln(flags.Output(), "Options:")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected argument: %s\n", flags.Arg(0))
		flags.Usage()
		return 1
	}

	key, err := keys.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	privatePath, publicPath, err := keys.WriteKeyPair(outDir, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Keys generated: %s & %s (ECDSA P-256)\n", privatePath, publicPath)
	return 0
}
