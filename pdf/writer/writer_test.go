package writer

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/pdfsignatures/pdf/crypt"
	"github.com/georgepadayatti/pdfsignatures/pdf/filters"
	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
)

var testTime = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestWriter() *PdfFileWriter {
	w := NewPdfFileWriter("1.7", WithClock(clockwork.NewFakeClockAt(testTime)))
	w.Info.Set("Title", generic.NewTextString("Quarterly report"))
	w.AddPage(612, 792, []byte("BT /F1 12 Tf (Hello) Tj ET"))
	return w
}

func readBack(t *testing.T, data []byte, opts ...reader.Option) *reader.PdfFileReader {
	t.Helper()
	r, err := reader.NewPdfFileReaderFromBytes(data, opts...)
	if err != nil {
		t.Fatalf("Failed to read written PDF: %v", err)
	}
	return r
}

func checkDocument(t *testing.T, r *reader.PdfFileReader) {
	t.Helper()
	if len(r.Pages) != 1 {
		t.Fatalf("Expected 1 page, got %d", len(r.Pages))
	}
	if got := r.Info.GetString("Title").Text(); got != "Quarterly report" {
		t.Errorf("Title = %q", got)
	}
	if got := r.Info.GetString("CreationDate").Text(); got != "D:20240315103000Z" {
		t.Errorf("CreationDate = %q", got)
	}
	contents, err := r.GetObject(r.Pages[0].Dict.Get("Contents").(generic.Reference).ObjectNumber)
	if err != nil {
		t.Fatalf("Failed to get contents: %v", err)
	}
	data, err := filters.DecodeStream(contents.(*generic.StreamObject))
	if err != nil {
		t.Fatalf("Failed to decode contents: %v", err)
	}
	if string(data) != "BT /F1 12 Tf (Hello) Tj ET" {
		t.Errorf("Contents = %q", data)
	}
}

func TestPdfFileWriterLayouts(t *testing.T) {
	tests := []struct {
		name          string
		xrefStream    bool
		objectStreams bool
	}{
		{"table", false, false},
		{"xref stream", true, false},
		{"object streams", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWriter()
			w.XRefStream = tt.xrefStream
			w.ObjectStreams = tt.objectStreams

			data, err := w.Bytes()
			if err != nil {
				t.Fatalf("Failed to write PDF: %v", err)
			}
			if !bytes.HasPrefix(data, []byte("%PDF-1.7\n")) {
				t.Error("Missing header")
			}
			r := readBack(t, data)
			checkDocument(t, r)
			if r.HasXRefStream != (tt.xrefStream || tt.objectStreams) {
				t.Errorf("HasXRefStream = %v", r.HasXRefStream)
			}
			if tt.objectStreams && r.XRef[1].Type != reader.XRefTypeInObjStream {
				t.Errorf("Catalog should be compressed, got %v", r.XRef[1].Type)
			}
		})
	}
}

func TestPdfFileWriterEncrypted(t *testing.T) {
	handlers := map[string]func(fileID []byte) (*crypt.StandardSecurityHandler, error){
		"RC4-40": func(id []byte) (*crypt.StandardSecurityHandler, error) {
			return crypt.NewRC4SecurityHandler([]byte("user"), []byte("owner"), crypt.PermAll, 40, id)
		},
		"RC4-128": func(id []byte) (*crypt.StandardSecurityHandler, error) {
			return crypt.NewRC4SecurityHandler([]byte("user"), []byte("owner"), crypt.PermAll, 128, id)
		},
		"AES-128": func(id []byte) (*crypt.StandardSecurityHandler, error) {
			return crypt.NewAES128SecurityHandler([]byte("user"), []byte("owner"), crypt.PermAll, id)
		},
		"AES-256": func([]byte) (*crypt.StandardSecurityHandler, error) {
			return crypt.NewAES256SecurityHandler([]byte("user"), []byte("owner"), crypt.PermAll)
		},
	}

	for name, create := range handlers {
		for _, objStm := range []bool{false, true} {
			t.Run(name, func(t *testing.T) {
				w := newTestWriter()
				w.ObjectStreams = objStm
				h, err := create(w.FileID)
				if err != nil {
					t.Fatalf("Failed to create handler: %v", err)
				}
				w.Encrypt(h)

				data, err := w.Bytes()
				if err != nil {
					t.Fatalf("Failed to write PDF: %v", err)
				}
				if bytes.Contains(data, []byte("Hello")) {
					t.Error("Page content written in clear")
				}

				r := readBack(t, data, reader.WithPassword([]byte("user")))
				checkDocument(t, r)
				if r.Auth != crypt.AuthUser || r.CanModify() {
					t.Errorf("User password: auth %v, CanModify %v", r.Auth, r.CanModify())
				}

				owner := readBack(t, data, reader.WithPassword([]byte("owner")))
				if owner.Auth != crypt.AuthOwner || !owner.CanModify() {
					t.Errorf("Owner password: auth %v", owner.Auth)
				}

				if _, err := reader.NewPdfFileReaderFromBytes(data, reader.WithPassword([]byte("nope"))); !errors.Is(err, reader.ErrEncrypted) {
					t.Errorf("Expected ErrEncrypted for wrong password, got %v", err)
				}
			})
		}
	}
}
