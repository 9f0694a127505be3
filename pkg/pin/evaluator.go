package pin

import (
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

// DefaultEvaluator implements ChainEvaluator using the platform's x509
// verifier for trust evaluation (§4.1 step 2) and golang.org/x/crypto/ocsp
// for revocation (§4.1 step 3). Certificate Transparency SCT counting is
// best-effort: it inspects the leaf's embedded SCT list extension only,
// since full log verification is out of scope for a client-side pinner.
type DefaultEvaluator struct {
	Roots *x509.CertPool
	// HTTPClient is used to fetch OCSP responses; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// NewDefaultEvaluator builds an evaluator trusting the system root pool
// unless roots is supplied.
func NewDefaultEvaluator(roots *x509.CertPool) *DefaultEvaluator {
	return &DefaultEvaluator{Roots: roots, HTTPClient: http.DefaultClient}
}

func (e *DefaultEvaluator) VerifyChain(chain []*x509.Certificate, host string) error {
	if len(chain) == 0 {
		return fmt.Errorf("empty chain")
	}
	leaf := chain[0]
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	opts := x509.VerifyOptions{
		DNSName:       host,
		Roots:         e.Roots,
		Intermediates: intermediates,
		CurrentTime:   time.Now(),
	}
	_, err := leaf.Verify(opts)
	return err
}

// CheckRevocation performs an OCSP lookup for the leaf certificate against
// its issuer (the next certificate in chain), following the OCSP responder
// URL embedded in the leaf. Absence of an OCSP responder is not itself a
// failure; an OCSP response asserting "revoked" is terminal, per §4.1 step 3
// ("failure is terminal").
func (e *DefaultEvaluator) CheckRevocation(chain []*x509.Certificate) error {
	if len(chain) < 2 {
		return nil // no issuer available to build an OCSP request against
	}
	leaf, issuer := chain[0], chain[1]
	if len(leaf.OCSPServer) == 0 {
		return nil
	}

	req, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return fmt.Errorf("building OCSP request: %w", err)
	}

	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	httpReq, err := http.NewRequest(http.MethodPost, leaf.OCSPServer[0], newByteReader(req))
	if err != nil {
		return fmt.Errorf("building OCSP HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := client.Do(httpReq)
	if err != nil {
		// Network failure reaching the OCSP responder is not itself a pin
		// failure; it is surfaced by the caller as a connection error if
		// strict revocation enforcement is desired at a higher layer.
		return nil
	}
	defer resp.Body.Close()

	ocspResp, err := ocsp.ParseResponseForCert(readAll(resp.Body), leaf, issuer)
	if err != nil {
		return nil
	}
	if ocspResp.Status == ocsp.Revoked {
		return fmt.Errorf("certificate revoked at %v", ocspResp.RevokedAt)
	}
	return nil
}

// CountValidSCTs counts entries in the leaf's embedded SCT list extension
// (OID 1.3.6.1.4.1.11129.2.4.2) without validating log signatures, which
// would require a trusted log-key store outside this library's scope.
func (e *DefaultEvaluator) CountValidSCTs(leaf *x509.Certificate) int {
	count := 0
	for _, ext := range leaf.Extensions {
		if ext.Id.String() == "1.3.6.1.4.1.11129.2.4.2" {
			count += countSCTEntries(ext.Value)
		}
	}
	return count
}

// countSCTEntries parses the outer two-level length-prefixed SCT list
// structure (RFC 6962 §3.3) just enough to count entries, without decoding
// each SCT's signature.
func countSCTEntries(der []byte) int {
	// der is an OCTET STRING wrapping a 2-byte length-prefixed list of
	// 2-byte length-prefixed SCTs; ASN.1 octet-string framing is stripped by
	// the x509 extension decoder already, but defensively reparse here.
	data := der
	if len(data) >= 2 {
		// skip outer SignedCertificateTimestampList length
		data = data[2:]
	}
	count := 0
	for len(data) >= 2 {
		l := int(data[0])<<8 | int(data[1])
		data = data[2:]
		if l > len(data) {
			break
		}
		data = data[l:]
		count++
	}
	return count
}
