package clients

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/maastricht-university/affect-pipeline/features"
)

// --- Face detection (/detect) ---
type FaceReq struct {
	Image  string `json:"image"` // base64
	Format string `json:"format,omitempty"`
}

// FaceRects are cascade detections; eyes and mouth are face-relative.
type FaceRects struct {
	Face  features.Rect   `json:"face"`
	Eyes  []features.Rect `json:"eyes"`
	Mouth []features.Rect `json:"mouth"`
}

type FaceResp struct {
	FaceFound   bool               `json:"face_found"`
	Expressions map[string]float64 `json:"expressions,omitempty"`
	Geometry    *features.Geometry `json:"geometry,omitempty"`
	Rects       *FaceRects         `json:"rects,omitempty"`
}

// FaceDetector is a features.FaceDetector backed by the face service.
type FaceDetector struct {
	http *HTTP
	url  string
}

func NewFaceDetector(h *HTTP, url string) *FaceDetector {
	return &FaceDetector{http: h, url: url}
}

// Detect posts f to /detect. A response without a face yields a nil
// Detection.
func (d *FaceDetector) Detect(ctx context.Context, f features.Frame) (*features.Detection, error) {
	var out FaceResp
	req := FaceReq{Image: base64.StdEncoding.EncodeToString(f.Data), Format: f.Format}
	if err := d.http.postJSON(ctx, "face", d.url+"/detect", req, &out); err != nil {
		return nil, err
	}
	if !out.FaceFound {
		return nil, nil
	}

	det := &features.Detection{Expressions: out.Expressions, Geometry: out.Geometry}
	if det.Geometry == nil && out.Rects != nil {
		g := features.GeometryFromRects(out.Rects.Face, out.Rects.Eyes, out.Rects.Mouth)
		det.Geometry = &g
	}
	return det, nil
}

// Ping checks that the service is up and its model is loaded.
func (d *FaceDetector) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url+"/health", nil)
	if err != nil {
		return err
	}
	return d.http.do(req, "face health", nil)
}
