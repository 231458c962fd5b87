package clients

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// Segment is one recognized stretch of speech, in seconds from the start of
// the recording.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

type Transcript struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// Transcribe uploads the recording at wavPath to the ASR service. The file
// is streamed, not buffered.
func (h *HTTP) Transcribe(ctx context.Context, url, wavPath string) (*Transcript, error) {
	if url == "" {
		return nil, fmt.Errorf("asr: no service configured: %w", ErrUnavailable)
	}
	fd, err := os.Open(wavPath)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("file", filepath.Base(wavPath))
		if err == nil {
			_, err = io.Copy(fw, fd)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/transcribe", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out Transcript
	if err := h.do(req, "asr", &out); err != nil {
		pr.Close()
		return nil, err
	}
	return &out, nil
}
