package generator

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/edvin/certkeeper/internal/model"
)

// RegisterManual places operator-supplied PEM material under the manual
// directory for the domain and registers it like any generated certificate.
// The same subject and key pair checks apply, so a mismatched upload is
// rejected before anything reaches the store.
func (g *Generator) RegisterManual(ctx context.Context, domain string, certPEM, keyPEM, chainPEM []byte) (*model.Certificate, error) {
	if len(certPEM) == 0 || len(keyPEM) == 0 {
		return nil, &GenerationError{Domain: domain, Type: model.CertTypeManual, Stage: "issue",
			Err: fmt.Errorf("certificate and private key material are both required")}
	}

	dir := g.layout.Dir(model.CertTypeManual, domain)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &GenerationError{Domain: domain, Type: model.CertTypeManual, Stage: "issue",
			Err: fmt.Errorf("create %s: %w", dir, err)}
	}

	paths := g.layout.Paths(model.CertTypeManual, domain)

	fullChain := certPEM
	if len(chainPEM) > 0 {
		fullChain = append(bytes.TrimRight(certPEM, "\n"), '\n')
		fullChain = append(fullChain, chainPEM...)
	}

	writes := []struct {
		path string
		data []byte
		mode os.FileMode
	}{
		{paths.Certificate, certPEM, 0o644},
		{paths.PrivateKey, keyPEM, 0o600},
		{paths.FullChain, fullChain, 0o644},
	}
	if len(chainPEM) > 0 {
		writes = append(writes, struct {
			path string
			data []byte
			mode os.FileMode
		}{paths.Chain, chainPEM, 0o644})
	} else {
		paths.Chain = ""
	}

	for _, w := range writes {
		if err := os.WriteFile(w.path, w.data, w.mode); err != nil {
			return nil, &GenerationError{Domain: domain, Type: model.CertTypeManual, Stage: "issue",
				Err: fmt.Errorf("write %s: %w", w.path, err)}
		}
	}

	cert, err := g.register(ctx, domain, model.CertTypeManual, paths)
	if err != nil {
		return nil, err
	}
	g.logger.Info().Str("domain", domain).Str("cert_id", cert.ID).Msg("manual certificate uploaded")
	return cert, nil
}
