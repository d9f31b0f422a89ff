// Package certctl implements the operator CLI commands against the
// certkeeper HTTP API.
package certctl

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/edvin/certkeeper/internal/core"
	"github.com/edvin/certkeeper/internal/model"
)

// Status prints the operator status view for one domain.
func Status(apiURL, domain string) error {
	c := NewClient(apiURL)
	resp, err := c.Get("/api/v1/domains/" + url.PathEscape(domain) + "/status")
	if err != nil {
		return err
	}

	var status core.DomainStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	printStatus(&status)
	return nil
}

// StatusAll prints the status view for every domain with an active certificate.
func StatusAll(apiURL string) error {
	c := NewClient(apiURL)
	resp, err := c.Get("/api/v1/status")
	if err != nil {
		return err
	}

	var list struct {
		Items []core.DomainStatus `json:"items"`
	}
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return fmt.Errorf("decode status list: %w", err)
	}
	for i := range list.Items {
		if i > 0 {
			fmt.Println()
		}
		printStatus(&list.Items[i])
	}
	return nil
}

func printStatus(status *core.DomainStatus) {
	fmt.Printf("Domain: %s\n", status.Domain)
	if status.Selected != nil {
		fmt.Printf("Selected: %s (%s), expires %s\n",
			status.Selected.ID, status.Selected.Type, status.Selected.NotAfter.Format(time.RFC3339))
	} else {
		fmt.Println("Selected: none (no usable certificate)")
	}
	if status.ExpiresWithinMargin {
		fmt.Println("Warning: active certificate inside renewal margin")
	}
	if status.LastError != nil {
		fmt.Printf("Last error: %s\n", *status.LastError)
	}

	if len(status.Bindings) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tCERTIFICATE\tTLS\tIN SYNC")
		for _, b := range status.Bindings {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", b.Service, b.CertificateID, b.TLSEnabled, b.InSync)
		}
		w.Flush()
	}
}

// List prints every tracked certificate for a domain.
func List(apiURL, domain string) error {
	c := NewClient(apiURL)
	resp, err := c.Get("/api/v1/domains/" + url.PathEscape(domain) + "/certificates")
	if err != nil {
		return err
	}

	var list struct {
		Items []model.Certificate `json:"items"`
	}
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return fmt.Errorf("decode certificate list: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tACTIVE\tNOT AFTER\tATTEMPTS")
	for _, cert := range list.Items {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\n",
			cert.ID, cert.Type, cert.IsActive, cert.NotAfter.Format(time.RFC3339), cert.RenewalAttemptCount)
	}
	return w.Flush()
}

// Rotate requests certificate generation for a domain.
func Rotate(apiURL, domain, certType string, force bool) error {
	c := NewClient(apiURL)
	resp, err := c.Post("/api/v1/domains/"+url.PathEscape(domain)+"/certificates",
		map[string]any{"type": certType, "force": force})
	if err != nil {
		return err
	}

	var result struct {
		Certificate *model.Certificate `json:"certificate"`
		Fallback    bool               `json:"fallback"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return fmt.Errorf("decode rotation result: %w", err)
	}
	if result.Fallback {
		fmt.Println("Warning: external issuance failed, fell back to a self-signed certificate")
	}
	if result.Certificate != nil {
		fmt.Printf("Certificate %s (%s) valid until %s\n",
			result.Certificate.ID, result.Certificate.Type, result.Certificate.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// Upload registers operator-supplied PEM files as a manual certificate.
func Upload(apiURL, domain, certFile, keyFile, chainFile string) error {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	var chainPEM []byte
	if chainFile != "" {
		chainPEM, err = os.ReadFile(chainFile)
		if err != nil {
			return fmt.Errorf("read chain: %w", err)
		}
	}

	c := NewClient(apiURL)
	resp, err := c.Post("/api/v1/domains/"+url.PathEscape(domain)+"/certificates/upload",
		map[string]any{"cert_pem": string(certPEM), "key_pem": string(keyPEM), "chain_pem": string(chainPEM)})
	if err != nil {
		return err
	}

	var cert model.Certificate
	if err := json.Unmarshal(resp.Body, &cert); err != nil {
		return fmt.Errorf("decode certificate: %w", err)
	}
	fmt.Printf("Uploaded certificate %s for %s, valid until %s\n",
		cert.ID, cert.Domain, cert.NotAfter.Format(time.RFC3339))
	return nil
}

// Deactivate retires the active certificate of the given type for a domain.
func Deactivate(apiURL, domain, certType string) error {
	c := NewClient(apiURL)
	_, err := c.Delete("/api/v1/domains/" + url.PathEscape(domain) + "/certificates/" + url.PathEscape(certType))
	if err != nil {
		return err
	}
	fmt.Printf("Deactivated %s certificate for %s\n", certType, domain)
	return nil
}

// Events prints the most recent change events for a domain.
func Events(apiURL, domain string, limit int) error {
	c := NewClient(apiURL)
	resp, err := c.Get(fmt.Sprintf("/api/v1/domains/%s/events?limit=%d", url.PathEscape(domain), limit))
	if err != nil {
		return err
	}

	var list struct {
		Items []model.ChangeEvent `json:"items"`
	}
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return fmt.Errorf("decode event list: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOPERATION\tTYPE")
	for _, ev := range list.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", ev.CreatedAt.Format(time.RFC3339), ev.Operation, ev.Type)
	}
	return w.Flush()
}

// Verify triggers an integrity check of all on-disk artifacts and prints the
// files that drifted.
func Verify(apiURL string) error {
	c := NewClient(apiURL)
	resp, err := c.Post("/api/v1/integrity/verify", nil)
	if err != nil {
		return err
	}

	var list struct {
		Items []core.DriftReport `json:"items"`
	}
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return fmt.Errorf("decode drift report: %w", err)
	}
	if len(list.Items) == 0 {
		fmt.Println("All artifacts match their recorded checksums")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CERTIFICATE\tKIND\tPATH\tREASON")
	for _, d := range list.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.CertificateID, d.Kind, d.Path, d.Reason)
	}
	w.Flush()
	return fmt.Errorf("%d artifact(s) drifted", len(list.Items))
}
