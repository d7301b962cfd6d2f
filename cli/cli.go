// Package cli provides the command-line interface for preparing PDF
// detached signatures.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/georgepadayatti/pdfsignatures/document"
)

// Version is reported by the version command.
var Version = "0.0.2"

// Run executes the CLI with the given arguments, os.Args style.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) > 0 {
		args = args[1:]
	}
	Execute(args, os.Stdout, os.Stderr)
}

// Execute runs one command. Results are written to stdout as a
// STATUS/RESULT envelope and failures to stderr as a
// STATUS/ERROR_TYPE/ERROR_MESSAGE envelope. help and version print plain
// text.
func Execute(args []string, stdout, stderr io.Writer) {
	command := "help"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	var run func(*options) (string, error)
	switch command {
	case "version", "--version", "-v":
		VersionCommand(stdout)
		return
	case "placeholder":
		run = placeholderCommand
	case "digest":
		run = digestCommand
	case "sign":
		run = signCommand
	case "ltv":
		run = ltvCommand
	default:
		Usage(stdout)
		return
	}

	opts, err := parseOptions(command, args)
	if err == errHelp {
		Usage(stdout)
		return
	}
	if err != nil {
		writeError(stderr, err)
		return
	}
	result, err := opts.execute(run)
	if err != nil {
		writeError(stderr, err)
		return
	}
	fmt.Fprintf(stdout, "STATUS=SUCCESS\nRESULT=%s\n", result)
}

func writeError(w io.Writer, err error) {
	fmt.Fprintf(w, "STATUS=ERROR\nERROR_TYPE=%s\nERROR_MESSAGE=%s\n", document.KindOf(err), singleLine(err.Error()))
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\r", "\n")), " ")
}

// VersionCommand prints version information.
func VersionCommand(w io.Writer) {
	fmt.Fprintf(w, "Advanon PKCS7 document signer v%s\n", Version)
}

// Usage prints the CLI usage information.
func Usage(w io.Writer) {
	fmt.Fprint(w, usage)
}

const usage = `
Advanon PKCS7 document signer

Usage:
  help                                        Show this help
  version                                     Display current version number
  --version                                   Display current version number
  -v                                          Display current version number
  placeholder                                 Add a signature placeholder
    --file <path>                             Path to the document
    --out <path>                              Path where to save a new document
    [--estimatedsize <int>]                   Estimated signature size, default is 30000 bytes
    [--certlevel <int>]                       Desired certification level, default is 0
      * 0                                     Not certified
      * 1                                     Certified, no changes allowed
      * 2                                     Certified, form filling
      * 3                                     Certified, form filling and annotations
    [--password <string>]                     Document password
    [--reason <reason>]                       Signing reason
    [--location <location>]                   Signing location
    [--contact <contact>]                     Signing contact
    [--date <date>]                           Date of signing in ISO 8601 format
  digest                                      Calculate document digest excluding signatures
    --file <path>                             Path to the document
    [--password <string>]                     Document password
    [--algorithm <SHA-256|SHA-384|SHA-512>]   Digest algorithm, default is SHA-512
  sign                                        Sign the document with external signature
    --file <path>                             Path to the document
    --out <path>                              Path where to save a new document
    --signature <base64 string>               Base64-encoded signature
    [--password <string>]                     Document password
  ltv                                         Add LTV information to the document
    --file <path>                             Path to the document
    --out <path>                              Path where to save a new document
    --crl <base64 string>...                  Base64-encoded CRL, repeat --crl for each CRL
    --ocsp <base64 string>...                 Base64-encoded OCSP response, repeat --ocsp for each response
    [--password <string>]                     Document password

All commands accept [--config <path>] naming a YAML configuration file.
Without it the file named by PDFSIGNATURES_CONFIG is used, if set.

Example
  placeholder --file file.pdf --out placeholdered.pdf
  digest --file placeholdered.pdf --algorithm sha512
  sign --file placeholdered.pdf --out signed.pdf --signature abb4rjfh=
  ltv --file signed.pdf --out signedltv.pdf --crl abb4rjfh= --crl fgsllldj5kg= --ocsp abb4rjfh= --ocsp fgsllldj5kg=
`
