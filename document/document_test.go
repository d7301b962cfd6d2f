package document

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.mozilla.org/pkcs7"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/pdfsignatures/config"
	"github.com/georgepadayatti/pdfsignatures/pdf/crypt"
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
	"github.com/georgepadayatti/pdfsignatures/pdf/writer"
	"github.com/georgepadayatti/pdfsignatures/sign/digest"
	"github.com/georgepadayatti/pdfsignatures/sign/dss"
	"github.com/georgepadayatti/pdfsignatures/sign/signers"
)

var testTime = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func createTestPDF(t *testing.T) []byte {
	t.Helper()
	w := writer.NewPdfFileWriter("1.6", writer.WithClock(clockwork.NewFakeClockAt(testTime)))
	w.AddPage(595, 842, []byte("BT /F1 12 Tf (Contract) Tj ET"))
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Failed to create test PDF: %v", err)
	}
	return data
}

func testOptions() *Options {
	return &Options{Clock: clockwork.NewFakeClockAt(testTime.Add(time.Hour))}
}

func openDocument(t *testing.T, data []byte) *Document {
	t.Helper()
	d, err := Open(data, "", testOptions())
	if err != nil {
		t.Fatalf("Failed to open document: %v", err)
	}
	return d
}

func placeholdered(t *testing.T, size int, level signers.CertificationLevel) *Document {
	t.Helper()
	d := openDocument(t, createTestPDF(t))
	if err := d.AddPlaceholder(PlaceholderParams{EstimatedSize: size, CertificationLevel: level}); err != nil {
		t.Fatalf("Failed to add placeholder: %v", err)
	}
	return d
}

func generateTestCert(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:   big.NewInt(1),
		Subject:        pkix.Name{CommonName: "Test Signer", Organization: []string{"Test Org"}},
		NotBefore:      now.Add(-time.Hour),
		NotAfter:       now.Add(24 * time.Hour),
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
		EmailAddresses: []string{"signer@example.com"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert, key
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Errorf("Expected %s, got %s (%v)", want, got, err)
	}
	var docErr *Error
	if !errors.As(err, &docErr) {
		t.Errorf("Expected *Error, got %T", err)
	}
}

func assertUnchanged(t *testing.T, d *Document, content, hashable []byte) {
	t.Helper()
	if !bytes.Equal(d.Content(), content) {
		t.Error("Failed operation changed content")
	}
	if !bytes.Equal(d.Hashable(), hashable) {
		t.Error("Failed operation changed hashable bytes")
	}
}

func TestOpenUnsigned(t *testing.T) {
	orig := createTestPDF(t)
	d := openDocument(t, orig)

	if d.State() != Unsigned {
		t.Errorf("State() = %s, want unsigned", d.State())
	}
	if !bytes.Equal(d.Content(), orig) || len(d.Hashable()) != 0 {
		t.Error("Unsigned document should have its bytes as content and no hashable bytes")
	}

	_, err := d.Digest(digest.SHA512)
	assertKind(t, err, KindDocument)
	if !errors.Is(err, ErrNoSignatureFields) {
		t.Errorf("Expected ErrNoSignatureFields, got %v", err)
	}
	assertKind(t, d.AddSignature([]byte{1}), KindDocument)
	assertKind(t, d.AddValidation(nil), KindDocument)
	assertUnchanged(t, d, orig, nil)
}

func TestOpenInvalid(t *testing.T) {
	_, err := Open([]byte("not a PDF"), "", nil)
	assertKind(t, err, KindDocument)

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.pdf"), "", nil)
	assertKind(t, err, KindDocument)
}

func TestContentIsCopied(t *testing.T) {
	orig := createTestPDF(t)
	d := openDocument(t, orig)
	orig[0] = 'X'
	content := d.Content()
	content[1] = 'X'
	if !bytes.HasPrefix(d.Content(), []byte("%PDF")) {
		t.Error("Document aliases caller buffers")
	}
}

func TestAddPlaceholder(t *testing.T) {
	orig := createTestPDF(t)
	d := openDocument(t, orig)
	if err := d.AddPlaceholder(PlaceholderParams{}); err != nil {
		t.Fatalf("Failed to add placeholder: %v", err)
	}

	if len(d.Content()) < len(orig)+30000 {
		t.Errorf("Content is %d bytes, original %d", len(d.Content()), len(orig))
	}
	if len(d.Hashable()) > len(orig)+1000 {
		t.Errorf("Hashable is %d bytes, original %d", len(d.Hashable()), len(orig))
	}
	if d.State() != Placeholdered {
		t.Errorf("State() = %s, want placeholdered", d.State())
	}
	if names := d.SignatureFieldNames(); len(names) != 1 || names[0] != "Signature1" {
		t.Errorf("SignatureFieldNames() = %v", names)
	}

	reopened := openDocument(t, d.Content())
	if !bytes.Equal(reopened.Hashable(), d.Hashable()) {
		t.Error("Reopened document derives different hashable bytes")
	}
}

func TestDigestStableAcrossSigning(t *testing.T) {
	d := placeholdered(t, 1024, signers.NotCertified)
	before, err := d.Digest(digest.SHA512)
	if err != nil {
		t.Fatalf("Failed to digest: %v", err)
	}
	length := len(d.Content())

	if err := d.AddSignature(bytes.Repeat([]byte{0x5A}, 700)); err != nil {
		t.Fatalf("Failed to add signature: %v", err)
	}
	after, err := d.Digest(digest.SHA512)
	if err != nil {
		t.Fatalf("Failed to digest: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("Digest changed by signing")
	}
	if len(d.Content()) != length {
		t.Errorf("Signing changed length from %d to %d", length, len(d.Content()))
	}
	if d.State() != Signed {
		t.Errorf("State() = %s, want signed", d.State())
	}

	def, err := d.Digest("")
	if err != nil || !bytes.Equal(def, after) {
		t.Errorf("Default algorithm should be SHA-512: %v", err)
	}
}

func TestDigestUnsupportedAlgorithm(t *testing.T) {
	d := placeholdered(t, 64, signers.NotCertified)
	_, err := d.Digest("MD5")
	assertKind(t, err, KindUnsupportedAlgorithm)
}

func TestEndToEndPKCS7(t *testing.T) {
	cert, key := generateTestCert(t)
	signingTime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	d := openDocument(t, createTestPDF(t))
	err := d.AddPlaceholder(PlaceholderParams{
		EstimatedSize: 8192,
		Metadata: signers.SignatureMetadata{
			Reason:      "Contract approval",
			Location:    "Zürich",
			ContactInfo: "signer@example.com",
			SigningTime: &signingTime,
		},
	})
	if err != nil {
		t.Fatalf("Failed to add placeholder: %v", err)
	}

	sd, err := pkcs7.NewSignedData(d.Hashable())
	if err != nil {
		t.Fatalf("Failed to create signed data: %v", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("Failed to add signer: %v", err)
	}
	sd.Detach()
	signature, err := sd.Finish()
	if err != nil {
		t.Fatalf("Failed to finish signed data: %v", err)
	}

	if err := d.AddSignature(signature); err != nil {
		t.Fatalf("Failed to add signature: %v", err)
	}

	r, err := reader.NewPdfFileReaderFromBytes(d.Content())
	if err != nil {
		t.Fatalf("Failed to read signed PDF: %v", err)
	}
	sigFields, err := r.SignatureFields()
	if err != nil || len(sigFields) != 1 {
		t.Fatalf("Expected one signature field: %v", err)
	}
	f := sigFields[0]

	p7, err := pkcs7.Parse(f.Contents[:len(signature)])
	if err != nil {
		t.Fatalf("Failed to parse embedded signature: %v", err)
	}
	p7.Content = d.Hashable()
	if err := p7.Verify(); err != nil {
		t.Errorf("Embedded signature does not verify over hashable bytes: %v", err)
	}
	if !bytes.Equal(p7.GetOnlySigner().Raw, cert.Raw) {
		t.Error("Unexpected signer certificate")
	}

	if f.Reason() != "Contract approval" || f.Location() != "Zürich" || f.ContactInfo() != "signer@example.com" {
		t.Errorf("Metadata = %q %q %q", f.Reason(), f.Location(), f.ContactInfo())
	}
	if f.SigningTime() != "D:20240301100000Z" {
		t.Errorf("M = %q", f.SigningTime())
	}
}

func TestAddSignatureTooLarge(t *testing.T) {
	d := placeholdered(t, 16, signers.NotCertified)
	content, hashable := d.Content(), d.Hashable()

	assertKind(t, d.AddSignature(make([]byte, 17)), KindSignatureTooLarge)
	assertUnchanged(t, d, content, hashable)
}

func TestResign(t *testing.T) {
	d := placeholdered(t, 16, signers.NotCertified)
	if err := d.AddSignature(bytes.Repeat([]byte{0xAA}, 16)); err != nil {
		t.Fatalf("Failed to add signature: %v", err)
	}
	if err := d.AddSignature([]byte{0xBB}); err != nil {
		t.Fatalf("Failed to re-sign: %v", err)
	}
	if !bytes.Contains(d.Content(), []byte("<bbaaaaaa")) {
		t.Error("Re-signing should overwrite only the leading hex digits")
	}
}

func TestRecertification(t *testing.T) {
	d := placeholdered(t, 64, signers.CertifiedFormFilling)
	content, hashable := d.Content(), d.Hashable()

	err := d.AddPlaceholder(PlaceholderParams{EstimatedSize: 64, CertificationLevel: signers.CertifiedFormFillingAndAnnotations})
	assertKind(t, err, KindCertificationLevel)
	assertUnchanged(t, d, content, hashable)

	if err := d.AddPlaceholder(PlaceholderParams{EstimatedSize: 64}); err != nil {
		t.Errorf("Approval placeholder on a form filling certification: %v", err)
	}
}

func TestNoChangesAllowed(t *testing.T) {
	d := placeholdered(t, 64, signers.CertifiedNoChangesAllowed)
	if d.CertificationLevel() != signers.CertifiedNoChangesAllowed {
		t.Fatalf("CertificationLevel() = %s", d.CertificationLevel())
	}
	content, hashable := d.Content(), d.Hashable()

	err := d.AddSignature([]byte{0x30, 0x03})
	assertKind(t, err, KindWriteNotAllowed)
	if !errors.Is(err, signers.ErrWriteNotAllowed) {
		t.Errorf("Expected ErrWriteNotAllowed, got %v", err)
	}
	assertKind(t, d.AddPlaceholder(PlaceholderParams{EstimatedSize: 64}), KindWriteNotAllowed)

	err = d.AddValidation(&dss.ValidationRecord{})
	assertKind(t, err, KindValidation)
	if !errors.Is(err, dss.ErrCertified) {
		t.Errorf("Expected ErrCertified, got %v", err)
	}
	if d.State() != Placeholdered {
		t.Errorf("State() = %s, want placeholdered", d.State())
	}
	assertUnchanged(t, d, content, hashable)
}

type testCA struct {
	cert *x509.Certificate
	key  crypto.Signer
}

func generateTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(10),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             testTime.Add(-time.Hour),
		NotAfter:              testTime.Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return &testCA{cert: cert, key: key}
}

func (ca *testCA) record(t *testing.T) *dss.ValidationRecord {
	t.Helper()
	ocspDER, err := ocsp.CreateResponse(ca.cert, ca.cert, ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: big.NewInt(1),
		ThisUpdate:   testTime,
		NextUpdate:   testTime.Add(24 * time.Hour),
	}, ca.key)
	if err != nil {
		t.Fatalf("Failed to create OCSP response: %v", err)
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: testTime,
		NextUpdate: testTime.Add(24 * time.Hour),
	}, ca.cert, ca.key)
	if err != nil {
		t.Fatalf("Failed to create CRL: %v", err)
	}
	return &dss.ValidationRecord{OCSPs: [][]byte{ocspDER}, CRLs: [][]byte{crlDER}}
}

func TestAddValidation(t *testing.T) {
	d := placeholdered(t, 64, signers.NotCertified)
	if err := d.AddSignature(bytes.Repeat([]byte{0x30}, 32)); err != nil {
		t.Fatalf("Failed to add signature: %v", err)
	}
	signed := d.Content()
	signedHashable := d.Hashable()
	record := generateTestCA(t).record(t)

	if err := d.AddValidation(record); err != nil {
		t.Fatalf("Failed to add validation data: %v", err)
	}
	if len(d.Content()) <= len(signed)+record.Total() {
		t.Errorf("Content grew by %d bytes, validation data is %d", len(d.Content())-len(signed), record.Total())
	}
	if d.State() != SignedLTV {
		t.Errorf("State() = %s, want signed_ltv", d.State())
	}
	if !bytes.Equal(d.Hashable(), signedHashable) {
		t.Error("LTV revision must not change the signed byte ranges")
	}

	if err := d.AddValidation(record); err != nil {
		t.Errorf("Validation data should be repeatable: %v", err)
	}
}

func TestAddValidationInvalid(t *testing.T) {
	d := placeholdered(t, 64, signers.NotCertified)
	if err := d.AddSignature([]byte{0x30}); err != nil {
		t.Fatalf("Failed to add signature: %v", err)
	}
	content, hashable := d.Content(), d.Hashable()

	err := d.AddValidation(&dss.ValidationRecord{OCSPs: [][]byte{[]byte("junk")}})
	assertKind(t, err, KindValidation)
	assertUnchanged(t, d, content, hashable)
}

func TestEncryptedDocument(t *testing.T) {
	w := writer.NewPdfFileWriter("1.6", writer.WithClock(clockwork.NewFakeClockAt(testTime)))
	w.AddPage(595, 842, nil)
	h, err := crypt.NewAES128SecurityHandler([]byte("user"), []byte("owner"), crypt.PermAll, w.FileID)
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}
	w.Encrypt(h)
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Failed to write PDF: %v", err)
	}

	userDoc, err := Open(data, "user", testOptions())
	if err != nil {
		t.Fatalf("Failed to open with user password: %v", err)
	}
	assertKind(t, userDoc.AddPlaceholder(PlaceholderParams{EstimatedSize: 64}), KindDocument)

	d, err := Open(data, "owner", testOptions())
	if err != nil {
		t.Fatalf("Failed to open with owner password: %v", err)
	}
	if err := d.AddPlaceholder(PlaceholderParams{EstimatedSize: 64}); err != nil {
		t.Fatalf("Failed to add placeholder: %v", err)
	}
	before, _ := d.Digest(digest.SHA256)
	if err := d.AddSignature([]byte{0xDE, 0xAD}); err != nil {
		t.Fatalf("Failed to add signature: %v", err)
	}
	after, _ := d.Digest(digest.SHA256)
	if !bytes.Equal(before, after) {
		t.Error("Digest changed by signing an encrypted document")
	}
	if !bytes.Contains(d.Content(), []byte("<dead00")) {
		t.Error("Signature contents must stay in clear")
	}
}

func TestConfiguredSignatureSettings(t *testing.T) {
	cfg, err := config.Parse([]byte("defaults:\n  estimated-size: 100\nsignature:\n  sub-filter: ETSI.CAdES.detached\n  field-prefix: Approval\n"))
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	d, err := Open(createTestPDF(t), "", &Options{Config: cfg, Clock: clockwork.NewFakeClockAt(testTime)})
	if err != nil {
		t.Fatalf("Failed to open document: %v", err)
	}
	if err := d.AddPlaceholder(PlaceholderParams{}); err != nil {
		t.Fatalf("Failed to add placeholder: %v", err)
	}

	r, err := reader.NewPdfFileReaderFromBytes(d.Content())
	if err != nil {
		t.Fatalf("Failed to read PDF: %v", err)
	}
	sigFields, err := r.SignatureFields()
	if err != nil || len(sigFields) != 1 {
		t.Fatalf("Expected one signature field: %v", err)
	}
	if sigFields[0].Name != "Approval1" || sigFields[0].SubFilter() != "ETSI.CAdES.detached" {
		t.Errorf("Field %s with sub-filter %s", sigFields[0].Name, sigFields[0].SubFilter())
	}
	if len(sigFields[0].Contents) != 100 {
		t.Errorf("Reserved %d bytes, want 100", len(sigFields[0].Contents))
	}
}

func TestWriteFile(t *testing.T) {
	d := placeholdered(t, 64, signers.NotCertified)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.pdf")

	if err := d.WriteFile(out); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}
	if !bytes.Equal(data, d.Content()) {
		t.Error("Written file differs from content")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Temporary files left behind: %d entries", len(entries))
	}

	err = d.WriteFile(filepath.Join(dir, "missing", "out.pdf"))
	assertKind(t, err, KindDocument)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{signers.ErrCertificationLevel, KindCertificationLevel},
		{signers.ErrWriteNotAllowed, KindWriteNotAllowed},
		{signers.ErrSignatureTooLarge, KindSignatureTooLarge},
		{dss.ErrInvalidOCSP, KindValidation},
		{dss.ErrInvalidCRL, KindValidation},
		{dss.ErrCertified, KindValidation},
		{digest.ErrUnsupportedAlgorithm, KindUnsupportedAlgorithm},
		{ErrInvalidArgument, KindArgument},
		{errors.New("boom"), KindDocument},
		{NewError(KindArgument, "cli", errors.New("missing --file")), KindArgument},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	err := wrap("sign", signers.ErrSignatureTooLarge)
	if err.Error() != "sign: signature does not fit in the reserved space" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, signers.ErrSignatureTooLarge) {
		t.Error("Error must unwrap to its cause")
	}
	if wrap("again", err) != err {
		t.Error("wrap must not re-wrap an *Error")
	}
}
