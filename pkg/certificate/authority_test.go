package certificate

import (
	"testing"

	"github.com/axiom-labs/ivcud/pkg/verify"
)

func sampleOutcomes() []verify.Outcome {
	return []verify.Outcome{
		{Tier: verify.TierSyntax, Passed: true, Confidence: 1.0},
		{Tier: verify.TierStatic, Passed: true, Confidence: 0.8},
		{Tier: verify.TierDynamic, Passed: true, Confidence: 0.95},
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	authority, err := New()
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}

	cert, err := authority.Issue("func F() int { return 1 }", "go", sampleOutcomes())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ok, err := authority.Verify(cert)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected freshly issued certificate to verify")
	}
}

func TestVerifyRejectsTamperedHash(t *testing.T) {
	authority, _ := New()
	cert, _ := authority.Issue("func F() int { return 1 }", "go", sampleOutcomes())

	cert.CodeHash = "sha256:0000000000000000000000000000000000000000000000000000000000000"
	ok, _ := authority.Verify(cert)
	if ok {
		t.Fatal("expected tampered certificate to fail verification")
	}
}

func TestRevokedCertificateFailsVerification(t *testing.T) {
	authority, _ := New()
	cert, _ := authority.Issue("func F() int { return 1 }", "go", sampleOutcomes())

	authority.Revoke(cert.CertificateID)

	ok, err := authority.Verify(cert)
	if ok || err == nil {
		t.Fatal("expected revoked certificate to fail verification with an error")
	}
}

func TestExportImportBundleRoundTrip(t *testing.T) {
	authority, _ := New()
	cert, _ := authority.Issue("func F() int { return 1 }", "go", sampleOutcomes())

	bundle := Export(cert)
	imported, err := Import(bundle)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.CertificateID != cert.CertificateID {
		t.Fatalf("expected round-tripped certificate id to match, got %s want %s", imported.CertificateID, cert.CertificateID)
	}
}

func TestImportRejectsWrongDomain(t *testing.T) {
	authority, _ := New()
	cert, _ := authority.Issue("x", "go", sampleOutcomes())
	bundle := Export(cert)
	bundle.Domain = "SOME_OTHER_DOMAIN"

	if _, err := Import(bundle); err == nil {
		t.Fatal("expected import to reject a mismatched domain tag")
	}
}
