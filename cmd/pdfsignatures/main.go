// Command pdfsignatures prepares PDF documents for external detached
// signatures.
//
// Usage:
//
//	pdfsignatures <command> [options]
//
// Commands:
//
//	placeholder  Add a signature placeholder
//	digest       Calculate the digest of the signed byte ranges
//	sign         Embed an externally computed signature
//	ltv          Add OCSP responses and CRLs for every signature
//	version      Show version information
//	help         Show help message
//
// Examples:
//
//	pdfsignatures placeholder --file in.pdf --out placeholdered.pdf --reason "Approved"
//	pdfsignatures digest --file placeholdered.pdf --algorithm SHA-256
//	pdfsignatures sign --file placeholdered.pdf --out signed.pdf --signature MIAGCSqGSIb3...
//
// The process exits with status 0; callers read the STATUS line.
package main

import (
	"os"

	"github.com/georgepadayatti/pdfsignatures/cli"
)

// version is set at build time using ldflags:
//
//	go build -ldflags "-X main.version=0.0.2" ./cmd/pdfsignatures
var version = ""

func main() {
	if version != "" {
		cli.Version = version
	}

	cli.Run(os.Args)
}
