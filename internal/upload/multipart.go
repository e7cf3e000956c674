package upload

import (
	"errors"
	"fmt"
	"strings"
)

// Form describes the single file part wrapped around each image.
type Form struct {
	Boundary    string `yaml:"boundary"`
	FieldName   string `yaml:"field_name"`
	FileName    string `yaml:"file_name"`
	ContentType string `yaml:"content_type"`
}

// DefaultForm is the layout the recognition endpoint expects.
func DefaultForm() Form {
	return Form{
		Boundary:    "ESP32CAMBoundary",
		FieldName:   "file",
		FileName:    "image.jpg",
		ContentType: "image/jpeg",
	}
}

// Validate rejects values that would corrupt the MIME framing. The boundary
// is fixed rather than random, so image bytes are not scanned for it.
func (f Form) Validate() error {
	if f.Boundary == "" || len(f.Boundary) > 70 {
		return errors.New("multipart boundary must be 1..70 characters")
	}
	if strings.ContainsAny(f.Boundary, "\r\n") {
		return errors.New("multipart boundary contains a line break")
	}
	for name, v := range map[string]string{"field name": f.FieldName, "file name": f.FileName} {
		if v == "" || strings.ContainsAny(v, "\"\r\n") {
			return fmt.Errorf("multipart %s %q is empty or needs escaping", name, v)
		}
	}
	if f.ContentType == "" || strings.ContainsAny(f.ContentType, "\r\n") {
		return errors.New("multipart content type is empty or contains a line break")
	}
	return nil
}

// Header is everything preceding the image bytes.
func (f Form) Header() string {
	return "--" + f.Boundary + "\r\n" +
		`Content-Disposition: form-data; name="` + f.FieldName + `"; filename="` + f.FileName + "\"\r\n" +
		"Content-Type: " + f.ContentType + "\r\n\r\n"
}

// Footer closes the part and the body.
func (f Form) Footer() string {
	return "\r\n--" + f.Boundary + "--\r\n"
}

// ContentTypeHeader is the request Content-Type value.
func (f Form) ContentTypeHeader() string {
	return "multipart/form-data; boundary=" + f.Boundary
}

// PayloadSize is the exact body length for an image of n bytes.
func (f Form) PayloadSize(n int) int {
	return len(f.Header()) + n + len(f.Footer())
}

// AppendPayload appends header, image and footer to dst. Passing a dst with
// capacity PayloadSize(len(image)) keeps the body in a single allocation.
func (f Form) AppendPayload(dst, image []byte) []byte {
	dst = append(dst, f.Header()...)
	dst = append(dst, image...)
	return append(dst, f.Footer()...)
}
