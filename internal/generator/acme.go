package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/edvin/certkeeper/internal/model"
)

// ACMERunner invokes an external ACME-capable tool as a subprocess. The tool
// is expected to place cert/privkey/chain/fullchain artifacts in the output
// directory or exit non-zero.
type ACMERunner struct {
	ToolPath     string
	ContactEmail string
	Webroot      string
	Timeout      time.Duration
}

// toolError carries the tool's exit status and combined output so the caller
// can classify the failure.
type toolError struct {
	err    error
	output string
}

func (e *toolError) Error() string {
	return fmt.Sprintf("acme tool: %v: %s", e.err, strings.TrimSpace(e.output))
}

func (e *toolError) Unwrap() error { return e.err }

// knownIncompatibilities are output patterns of a historical tool/library
// incompatibility class that warrants falling back to self-signed rather than
// leaving the domain uncovered. Matching tool output is a best-effort
// heuristic, not a guaranteed detection.
var knownIncompatibilities = []string{
	"ImportError: cannot import name",
	"AttributeError: can't set attribute",
	"urn:ietf:params:acme:error:unsupportedContact",
}

// IsKnownIncompatibility reports whether the error output matches the
// fallback-eligible incompatibility class.
func IsKnownIncompatibility(err error) bool {
	var te *toolError
	if !errors.As(err, &te) {
		return false
	}
	for _, pattern := range knownIncompatibilities {
		if strings.Contains(te.output, pattern) {
			return true
		}
	}
	return false
}

// generateACME obtains a certificate through the external tool and registers
// the produced artifacts. The invocation is bounded by the configured
// timeout; cancellation leaves no partial store rows because registration is
// a single transaction after all artifact checks pass.
func (g *Generator) generateACME(ctx context.Context, domain, certType string) (*model.Certificate, error) {
	paths := g.layout.Paths(certType, domain)
	outDir := g.layout.Dir(certType, domain)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create certificate dir: %w", err)
	}

	if err := g.acme.Run(ctx, domain, outDir, certType == model.CertTypeLEStaging); err != nil {
		return nil, err
	}

	// The tool contract: non-zero exit or missing artifacts are both failures.
	for _, required := range []string{paths.FullChain, paths.PrivateKey, paths.Chain} {
		if _, err := os.Stat(required); err != nil {
			return nil, &GenerationError{Domain: domain, Type: certType, Stage: "issue",
				Err: fmt.Errorf("acme tool exited cleanly but artifact %s is missing: %w", required, err)}
		}
	}
	if _, err := os.Stat(paths.Certificate); err != nil {
		// Some tools emit only fullchain; the leaf is the first block of it.
		paths.Certificate = paths.FullChain
	}

	return g.register(ctx, domain, certType, paths)
}

// Run executes the tool with the well-defined invocation contract: domain,
// webroot challenge, contact email, staging flag, output directory.
func (r *ACMERunner) Run(ctx context.Context, domain, outDir string, staging bool) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"certonly",
		"--non-interactive",
		"--agree-tos",
		"--webroot", "-w", r.Webroot,
		"-d", domain,
		"--cert-dir", outDir,
	}
	if r.ContactEmail != "" {
		args = append(args, "--email", r.ContactEmail)
	}
	if staging {
		args = append(args, "--staging")
	}

	cmd := exec.CommandContext(ctx, r.ToolPath, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("acme tool timed out after %s: %w", timeout, ctx.Err())
		}
		return &toolError{err: err, output: output.String()}
	}
	return nil
}
