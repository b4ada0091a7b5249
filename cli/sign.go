package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/aruthen/pdfsign/config"
	"github.com/aruthen/pdfsign/keys"
	"github.com/aruthen/pdfsign/sign/signers"
)

// SignCommand implements the 'sign' command.
func SignCommand(args []string) int {
	flags := flag.NewFlagSet("sign", flag.ContinueOnError)

	var (
		inputPath  string
		outputPath string
		keyPath    string
		configPath string

		name        string
		reason      string
		location    string
		contactInfo string
		fieldName   string
	)

	flags.StringVar(&inputPath, "input", "", "Input PDF file to sign")
	flags.StringVar(&outputPath, "output", "", "Output file for the signed PDF")
	flags.StringVar(&keyPath, "key", "", "Private key file (32 byte raw P-256 scalar)")
	flags.StringVar(&configPath, "config", "", "Optional YAML configuration file")
	flags.StringVar(&name, "name", "", "Name of the signatory")
	flags.StringVar(&reason, "reason", "", "Reason for signing")
	flags.StringVar(&location, "location", "", "Location of the signatory")
	flags.StringVar(&contactInfo, "contact-info", "", "Contact information for the signatory")
	flags.StringVar(&fieldName, "field", "", "Name of the signature form field")

	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: %s sign [options]\n\n", os.Args[0])
		fmt.Fprintln(flags.Output(), "Sign a PDF file with a detached digital signature.")
		fmt.Fprintln(flags.Output(), "")
		fmt.Fprintln(flags.Output(), "Options:")
		flags.PrintDefaults()
		fmt.Fprintln(flags.Output(), "")
		fmt.Fprintln(flags.Output(), "Examples:")
		fmt.Fprintf(flags.Output(), "  %s sign --input input.pdf --output signed.pdf --key private.key\n", os.Args[0])
		fmt.Fprintf(flags.Output(), "  %s sign --input in.pdf --output out.pdf --key private.key --name \"John Doe\" --reason Approved\n", os.Args[0])
	}

	if err := flags.Parse(args); err != nil {
		return 1
	}

	for flagName, value := range map[string]string{
		"input":  inputPath,
		"output": outputPath,
		"key":    keyPath,
	} {
		if value == "" {
			fmt.Fprintf(os.Stderr, "Error: --%s is required\n\n", flagName)
			flags.Usage()
			return 1
		}
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// Explicit flags win over the configuration file.
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Name = name
		case "reason":
			cfg.Reason = reason
		case "location":
			cfg.Location = location
		case "contact-info":
			cfg.ContactInfo = contactInfo
		case "field":
			cfg.FieldName = fieldName
		}
	})

	if err := signPdf(inputPath, outputPath, keyPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("PDF signed: %s\n", outputPath)
	fmt.Printf("Signer: %s\n", cfg.Name)
	return 0
}

// signPdf loads the key material, signs inputPath and writes the result to
// outputPath. The output file is only created once signing has fully
// succeeded.
func signPdf(inputPath, outputPath, keyPath string, cfg *config.SigningConfig) error {
	key, err := keys.LoadPrivateKey(keyPath)
	if err != nil {
		return err
	}
	cert, err := keys.LoadCertificateSidecar(keyPath)
	if err != nil {
		return err
	}

	input, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	signer := signers.NewPdfSigner(signers.NewECDSASigner(key, cert))
	signer.Metadata = signers.SignatureMetadata{
		Name:        cfg.Name,
		Reason:      cfg.Reason,
		Location:    cfg.Location,
		ContactInfo: cfg.ContactInfo,
	}
	signer.FieldName = cfg.FieldName
	signer.Rect = cfg.Rectangle()
	signer.BytesReserved = cfg.BytesReserved

	signed, err := signer.Sign(input)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputPath, signed, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
