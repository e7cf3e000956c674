package upload

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"testing"
)

const (
	wantHeader = "--ESP32CAMBoundary\r\nContent-Disposition: form-data; name=\"file\"; filename=\"image.jpg\"\r\nContent-Type: image/jpeg\r\n\r\n"
	wantFooter = "\r\n--ESP32CAMBoundary--\r\n"
)

func testImage(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i * 7)
	}
	if n >= 2 {
		img[0], img[1] = 0xFF, 0xD8
	}
	return img
}

func TestDefaultFormLiterals(t *testing.T) {
	f := DefaultForm()
	if got := f.Header(); got != wantHeader {
		t.Errorf("header = %q\nwant     %q", got, wantHeader)
	}
	if got := f.Footer(); got != wantFooter {
		t.Errorf("footer = %q\nwant     %q", got, wantFooter)
	}
	if got := f.ContentTypeHeader(); got != "multipart/form-data; boundary=ESP32CAMBoundary" {
		t.Errorf("content type = %q", got)
	}
}

func TestPayloadLayout(t *testing.T) {
	f := DefaultForm()
	for _, n := range []int{0, 1, 1000, 64 << 10} {
		img := testImage(n)
		size := f.PayloadSize(n)
		if size != len(wantHeader)+n+len(wantFooter) {
			t.Fatalf("n=%d: size = %d", n, size)
		}

		payload := f.AppendPayload(make([]byte, 0, size), img)
		if len(payload) != size {
			t.Fatalf("n=%d: len = %d, want %d", n, len(payload), size)
		}
		if cap(payload) != size {
			t.Fatalf("n=%d: payload grew beyond its single allocation (cap %d)", n, cap(payload))
		}

		want := append(append([]byte(wantHeader), img...), wantFooter...)
		if !bytes.Equal(payload, want) {
			t.Fatalf("n=%d: payload is not header||frame||footer", n)
		}
	}
}

func TestPayloadParsesAsMultipart(t *testing.T) {
	f := DefaultForm()
	img := testImage(1000)
	payload := f.AppendPayload(nil, img)

	_, params, err := mime.ParseMediaType(f.ContentTypeHeader())
	if err != nil {
		t.Fatal(err)
	}
	r := multipart.NewReader(bytes.NewReader(payload), params["boundary"])
	part, err := r.NextPart()
	if err != nil {
		t.Fatalf("next part: %v", err)
	}
	if part.FormName() != "file" || part.FileName() != "image.jpg" {
		t.Errorf("part name=%q file=%q", part.FormName(), part.FileName())
	}
	if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("part content type = %q", ct)
	}
	got, err := io.ReadAll(part)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, img) {
		t.Error("part body differs from image")
	}
	if _, err := r.NextPart(); err != io.EOF {
		t.Errorf("expected a single part, got err=%v", err)
	}
}

func TestFormValidate(t *testing.T) {
	if err := DefaultForm().Validate(); err != nil {
		t.Fatalf("default form invalid: %v", err)
	}
	bad := []Form{
		{Boundary: "", FieldName: "file", FileName: "a.jpg", ContentType: "image/jpeg"},
		{Boundary: "a\r\nb", FieldName: "file", FileName: "a.jpg", ContentType: "image/jpeg"},
		{Boundary: "b", FieldName: `fi"le`, FileName: "a.jpg", ContentType: "image/jpeg"},
		{Boundary: "b", FieldName: "file", FileName: "", ContentType: "image/jpeg"},
		{Boundary: "b", FieldName: "file", FileName: "a.jpg", ContentType: ""},
	}
	for i, f := range bad {
		if err := f.Validate(); err == nil {
			t.Errorf("case %d: expected error for %+v", i, f)
		}
	}
}
