package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/edvin/certkeeper/internal/certctl"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		apiURL := fs.String("api", "http://localhost:8091", "certkeeper API base URL")
		fs.Parse(os.Args[2:])

		var err error
		if fs.NArg() < 1 {
			err = certctl.StatusAll(*apiURL)
		} else {
			err = certctl.Status(*apiURL, fs.Arg(0))
		}
		exitOn(err)

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		apiURL := fs.String("api", "http://localhost:8091", "certkeeper API base URL")
		fs.Parse(os.Args[2:])

		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: certctl list [-api URL] <domain>")
			os.Exit(1)
		}
		exitOn(certctl.List(*apiURL, fs.Arg(0)))

	case "rotate":
		fs := flag.NewFlagSet("rotate", flag.ExitOnError)
		apiURL := fs.String("api", "http://localhost:8091", "certkeeper API base URL")
		certType := fs.String("type", "letsencrypt_production", "Certificate type to generate")
		force := fs.Bool("force", false, "Issue fresh material even if the current certificate is still valid")
		fs.Parse(os.Args[2:])

		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: certctl rotate [-api URL] [-type TYPE] [-force] <domain>")
			os.Exit(1)
		}
		exitOn(certctl.Rotate(*apiURL, fs.Arg(0), *certType, *force))

	case "upload":
		fs := flag.NewFlagSet("upload", flag.ExitOnError)
		apiURL := fs.String("api", "http://localhost:8091", "certkeeper API base URL")
		certFile := fs.String("cert", "", "Path to the certificate PEM file (required)")
		keyFile := fs.String("key", "", "Path to the private key PEM file (required)")
		chainFile := fs.String("chain", "", "Path to the chain PEM file")
		fs.Parse(os.Args[2:])

		if fs.NArg() < 1 || *certFile == "" || *keyFile == "" {
			fmt.Fprintln(os.Stderr, "Usage: certctl upload [-api URL] -cert <cert.pem> -key <privkey.pem> [-chain <chain.pem>] <domain>")
			os.Exit(1)
		}
		exitOn(certctl.Upload(*apiURL, fs.Arg(0), *certFile, *keyFile, *chainFile))

	case "deactivate":
		fs := flag.NewFlagSet("deactivate", flag.ExitOnError)
		apiURL := fs.String("api", "http://localhost:8091", "certkeeper API base URL")
		certType := fs.String("type", "", "Certificate type to deactivate (required)")
		fs.Parse(os.Args[2:])

		if fs.NArg() < 1 || *certType == "" {
			fmt.Fprintln(os.Stderr, "Usage: certctl deactivate [-api URL] -type TYPE <domain>")
			os.Exit(1)
		}
		exitOn(certctl.Deactivate(*apiURL, fs.Arg(0), *certType))

	case "events":
		fs := flag.NewFlagSet("events", flag.ExitOnError)
		apiURL := fs.String("api", "http://localhost:8091", "certkeeper API base URL")
		limit := fs.Int("limit", 50, "Maximum number of events to show")
		fs.Parse(os.Args[2:])

		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: certctl events [-api URL] [-limit N] <domain>")
			os.Exit(1)
		}
		exitOn(certctl.Events(*apiURL, fs.Arg(0), *limit))

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		apiURL := fs.String("api", "http://localhost:8091", "certkeeper API base URL")
		fs.Parse(os.Args[2:])

		exitOn(certctl.Verify(*apiURL))

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  certctl status [-api URL] [domain]
  certctl list [-api URL] <domain>
  certctl rotate [-api URL] [-type TYPE] [-force] <domain>
  certctl upload [-api URL] -cert <cert.pem> -key <privkey.pem> [-chain <chain.pem>] <domain>
  certctl deactivate [-api URL] -type TYPE <domain>
  certctl events [-api URL] [-limit N] <domain>
  certctl verify [-api URL]

Commands:
  status      Show selection, expiry, and binding state for a domain (or all domains)
  list        List every tracked certificate for a domain
  rotate      Generate or renew a certificate for a domain
  upload      Register operator-supplied certificate material
  deactivate  Retire the active certificate of a type for a domain
  events      Show recent change events for a domain
  verify      Check on-disk artifacts against recorded checksums

Certificate types:
  self_signed, letsencrypt_staging, letsencrypt_production, manual`)
}
