package signers

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
	"github.com/georgepadayatti/pdfsignatures/pdf/writer"
)

var testTime = time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)

func createTestPDF(t *testing.T) []byte {
	t.Helper()
	w := writer.NewPdfFileWriter("1.7", writer.WithClock(clockwork.NewFakeClockAt(testTime)))
	w.AddPage(595, 842, []byte("BT /F1 12 Tf (Invoice) Tj ET"))
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Failed to create test PDF: %v", err)
	}
	return data
}

func openPDF(t *testing.T, data []byte) *reader.PdfFileReader {
	t.Helper()
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		t.Fatalf("Failed to read PDF: %v", err)
	}
	return r
}

func newTestBuilder(size int) *PlaceholderBuilder {
	b := NewPlaceholderBuilder()
	b.EstimatedSize = size
	b.Clock = clockwork.NewFakeClockAt(testTime.Add(time.Hour))
	return b
}

func buildPlaceholder(t *testing.T, data []byte, b *PlaceholderBuilder) *Placeholder {
	t.Helper()
	p, err := b.Build(openPDF(t, data))
	if err != nil {
		t.Fatalf("Failed to build placeholder: %v", err)
	}
	return p
}

func TestPlaceholderBuild(t *testing.T) {
	orig := createTestPDF(t)
	signingTime := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	b := newTestBuilder(DefaultEstimatedSize)
	b.Metadata = SignatureMetadata{
		Reason:      "Approval",
		Location:    "Zürich",
		ContactInfo: "signer@example.com",
		SigningTime: &signingTime,
	}
	p := buildPlaceholder(t, orig, b)

	if len(p.Content) < len(orig)+DefaultEstimatedSize {
		t.Errorf("Content grew by %d bytes, want at least %d", len(p.Content)-len(orig), DefaultEstimatedSize)
	}
	if len(p.Hashable) > len(orig)+1000 {
		t.Errorf("Hashable is %d bytes, original %d", len(p.Hashable), len(orig))
	}
	if !bytes.HasPrefix(p.Content, orig) {
		t.Error("Placeholder must append to the original bytes")
	}
	if p.FieldName != "Signature1" {
		t.Errorf("FieldName = %q", p.FieldName)
	}
	if p.ByteRange.Capacity() != 2*DefaultEstimatedSize {
		t.Errorf("Capacity() = %d", p.ByteRange.Capacity())
	}

	r := openPDF(t, p.Content)
	sigFields, err := r.SignatureFields()
	if err != nil {
		t.Fatalf("Failed to list signature fields: %v", err)
	}
	if len(sigFields) != 1 || !sigFields[0].IsPending() {
		t.Fatalf("Expected one pending signature field, got %d", len(sigFields))
	}
	f := sigFields[0]
	if ByteRangeFromPDF(f.ByteRange) != p.ByteRange {
		t.Errorf("Stored ByteRange %v, returned %v", f.ByteRange, p.ByteRange)
	}
	hashable, err := HashableBytes(p.Content, sigFields)
	if err != nil || !bytes.Equal(hashable, p.Hashable) {
		t.Errorf("Hashable bytes differ from the stored ByteRange: %v", err)
	}

	if f.Reason() != "Approval" || f.Location() != "Zürich" || f.ContactInfo() != "signer@example.com" {
		t.Errorf("Metadata = %q %q %q", f.Reason(), f.Location(), f.ContactInfo())
	}
	if f.SigningTime() != "D:20240501123000Z" {
		t.Errorf("M = %q", f.SigningTime())
	}
	if f.SigDict.GetName("Filter") != "Adobe.PPKLite" || f.SubFilter() != "adbe.pkcs7.detached" {
		t.Errorf("Filter = %s, SubFilter = %s", f.SigDict.GetName("Filter"), f.SubFilter())
	}
	if flags, _ := r.AcroForm.GetInt("SigFlags"); flags != 3 {
		t.Errorf("SigFlags = %d", flags)
	}
	if got := r.Info.GetString("ModDate").Text(); got != "D:20240502090000Z" {
		t.Errorf("ModDate = %q", got)
	}
	if r.CertificationLevel() != 0 {
		t.Error("Approval placeholder must not certify")
	}
}

func TestPlaceholderWithoutMetadata(t *testing.T) {
	p := buildPlaceholder(t, createTestPDF(t), newTestBuilder(64))
	f, err := openPDF(t, p.Content).SignatureFields()
	if err != nil {
		t.Fatalf("Failed to list signature fields: %v", err)
	}
	for _, key := range []string{"Reason", "Location", "ContactInfo", "M", "Reference"} {
		if f[0].SigDict.Has(key) {
			t.Errorf("Unexpected /%s", key)
		}
	}
}

func TestPlaceholderAppends(t *testing.T) {
	first := buildPlaceholder(t, createTestPDF(t), newTestBuilder(64))
	second := buildPlaceholder(t, first.Content, newTestBuilder(64))

	if !bytes.HasPrefix(second.Content, first.Content) {
		t.Error("Second placeholder rewrote the first revision")
	}
	if second.FieldName != "Signature2" {
		t.Errorf("FieldName = %q, want Signature2", second.FieldName)
	}
	fields, err := openPDF(t, second.Content).SignatureFields()
	if err != nil {
		t.Fatalf("Failed to list signature fields: %v", err)
	}
	var names []string
	for _, f := range fields {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "Signature1,Signature2" {
		t.Errorf("Signature field names = %v", names)
	}
}

func TestPlaceholderCertification(t *testing.T) {
	b := newTestBuilder(64)
	b.CertificationLevel = CertifiedFormFilling
	certified := buildPlaceholder(t, createTestPDF(t), b)

	r := openPDF(t, certified.Content)
	if r.CertificationLevel() != int(CertifiedFormFilling) {
		t.Errorf("CertificationLevel() = %d", r.CertificationLevel())
	}

	again := newTestBuilder(64)
	again.CertificationLevel = CertifiedNoChangesAllowed
	if _, err := again.Build(r); !errors.Is(err, ErrCertificationLevel) {
		t.Errorf("Expected ErrCertificationLevel, got %v", err)
	}

	if _, err := newTestBuilder(64).Build(r); err != nil {
		t.Errorf("Approval placeholder on a level 2 document: %v", err)
	}
}

func TestPlaceholderNoChangesAllowed(t *testing.T) {
	b := newTestBuilder(64)
	b.CertificationLevel = CertifiedNoChangesAllowed
	certified := buildPlaceholder(t, createTestPDF(t), b)

	if _, err := newTestBuilder(64).Build(openPDF(t, certified.Content)); !errors.Is(err, ErrWriteNotAllowed) {
		t.Errorf("Expected ErrWriteNotAllowed, got %v", err)
	}
}

func TestPlaceholderInvalidSize(t *testing.T) {
	if _, err := newTestBuilder(0).Build(openPDF(t, createTestPDF(t))); err == nil {
		t.Error("Expected error for zero estimated size")
	}
}

func TestSignatureEmbed(t *testing.T) {
	p := buildPlaceholder(t, createTestPDF(t), newTestBuilder(64))
	signature := bytes.Repeat([]byte{0xC0, 0xFF, 0xEE}, 10)

	content, hashable, err := NewSignatureEmbedder().Embed(openPDF(t, p.Content), signature)
	if err != nil {
		t.Fatalf("Failed to embed signature: %v", err)
	}
	if len(content) != len(p.Content) {
		t.Errorf("Embedding changed length from %d to %d", len(p.Content), len(content))
	}
	if !bytes.Equal(hashable, p.Hashable) {
		t.Error("Hashable bytes changed by embedding")
	}
	slot := string(content[p.ByteRange[1]:p.ByteRange[2]])
	if !strings.HasPrefix(slot, "<"+strings.Repeat("c0ffee", 10)+"0") || !strings.HasSuffix(slot, "0>") {
		t.Errorf("Unexpected slot %q", slot[:70])
	}

	f, err := openPDF(t, content).SignatureFields()
	if err != nil {
		t.Fatalf("Failed to list signature fields: %v", err)
	}
	if f[0].IsPending() || !bytes.HasPrefix(f[0].Contents, signature) {
		t.Error("Embedded signature not visible through the reader")
	}
}

func TestSignatureEmbedAllFields(t *testing.T) {
	first := buildPlaceholder(t, createTestPDF(t), newTestBuilder(16))
	second := buildPlaceholder(t, first.Content, newTestBuilder(16))

	content, _, err := NewSignatureEmbedder().Embed(openPDF(t, second.Content), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Failed to embed signature: %v", err)
	}
	for _, br := range []ByteRange{first.ByteRange, second.ByteRange} {
		if string(content[br[1]+1:br[1]+7]) != "010203" {
			t.Errorf("Slot at %d not filled: %q", br[1], content[br[1]:br[1]+8])
		}
	}
}

func TestSignatureEmbedTooLarge(t *testing.T) {
	p := buildPlaceholder(t, createTestPDF(t), newTestBuilder(4))
	r := openPDF(t, p.Content)

	if _, _, err := NewSignatureEmbedder().Embed(r, make([]byte, 5)); !errors.Is(err, ErrSignatureTooLarge) {
		t.Errorf("Expected ErrSignatureTooLarge, got %v", err)
	}
	if _, _, err := NewSignatureEmbedder().Embed(r, []byte{1, 2, 3, 4}); err != nil {
		t.Errorf("Signature filling the slot exactly: %v", err)
	}
}

func TestSignatureEmbedCertified(t *testing.T) {
	b := newTestBuilder(16)
	b.CertificationLevel = CertifiedNoChangesAllowed
	p := buildPlaceholder(t, createTestPDF(t), b)

	if _, _, err := NewSignatureEmbedder().Embed(openPDF(t, p.Content), []byte{0xAA}); !errors.Is(err, ErrWriteNotAllowed) {
		t.Errorf("Expected ErrWriteNotAllowed, got %v", err)
	}

	b = newTestBuilder(16)
	b.CertificationLevel = CertifiedFormFilling
	p = buildPlaceholder(t, createTestPDF(t), b)
	if _, _, err := NewSignatureEmbedder().Embed(openPDF(t, p.Content), []byte{0xAA}); err != nil {
		t.Errorf("Signing a form filling certification: %v", err)
	}
}

func TestSignatureEmbedNoFields(t *testing.T) {
	content, hashable, err := NewSignatureEmbedder().Embed(openPDF(t, createTestPDF(t)), []byte{1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(hashable) != 0 || len(content) == 0 {
		t.Errorf("Expected unchanged content and empty hashable, got %d, %d", len(content), len(hashable))
	}
}

func TestParseCertificationLevel(t *testing.T) {
	for n := 0; n <= 3; n++ {
		if l, err := ParseCertificationLevel(n); err != nil || int(l) != n {
			t.Errorf("ParseCertificationLevel(%d) = %v, %v", n, l, err)
		}
	}
	for _, n := range []int{-1, 4} {
		if _, err := ParseCertificationLevel(n); err == nil {
			t.Errorf("Expected error for %d", n)
		}
	}
	if CertifiedFormFilling.String() != "form_filling" {
		t.Errorf("String() = %q", CertifiedFormFilling.String())
	}
}

func TestMetadataApply(t *testing.T) {
	d := generic.NewDictionary()
	SignatureMetadata{Reason: "r"}.apply(d)
	if d.Len() != 1 || d.GetString("Reason").Text() != "r" {
		t.Errorf("apply() wrote %v", d.Keys())
	}
}
