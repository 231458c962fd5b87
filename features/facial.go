package features

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/maastricht-university/affect-pipeline/affect"
)

// MinExpressionConfidence is the strongest expression probability below
// which a detection is treated as no face.
const MinExpressionConfidence = 0.2

// Frame is one encoded camera frame.
type Frame struct {
	Data      []byte
	Format    string // "jpeg" or "png"
	Width     int
	Height    int
	Timestamp time.Time
}

// Rect is an axis-aligned box in frame pixels.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (r Rect) centerX() float64 { return r.X + r.W/2 }

// Geometry holds face-relative landmark metrics.
type Geometry struct {
	FaceAspectRatio  float64 `json:"face_aspect_ratio"`
	EyeDistanceNorm  float64 `json:"eye_distance_norm"`
	EyeSizeNorm      float64 `json:"eye_size_norm"`
	MouthWidthNorm   float64 `json:"mouth_width_norm"`
	MouthHeightNorm  float64 `json:"mouth_height_norm"`
	MouthAspectRatio float64 `json:"mouth_aspect_ratio"`
}

// Detection is what a FaceDetector found in a frame. Either field may be
// empty; a detector that only locates landmarks leaves Expressions nil.
type Detection struct {
	Expressions map[string]float64 `json:"expressions,omitempty"`
	Geometry    *Geometry          `json:"geometry,omitempty"`
}

// FaceDetector locates a face and classifies its expression. A nil
// Detection with a nil error means no face was found.
type FaceDetector interface {
	Detect(ctx context.Context, f Frame) (*Detection, error)
}

// Facial is the facial feature vector. Expressions, when non-empty, are
// scored directly; otherwise Geometry goes through the rule table.
type Facial struct {
	Expressions map[affect.Emotion]float64 `json:"expressions,omitempty"`
	Geometry    Geometry                   `json:"geometry"`
}

// ExtractFacial runs det on f. It returns ErrNoSignal when no face is found,
// or when the expression classifier is too unsure to call it and no geometry
// was measured. An unsure classifier with geometry falls back to geometry.
func ExtractFacial(ctx context.Context, det FaceDetector, f Frame) (Facial, error) {
	d, err := det.Detect(ctx, f)
	if err != nil {
		return Facial{}, fmt.Errorf("detect face: %w", err)
	}
	if d == nil {
		return Facial{}, ErrNoSignal
	}

	var out Facial
	if len(d.Expressions) > 0 {
		best := 0.0
		out.Expressions = make(map[affect.Emotion]float64, len(d.Expressions))
		for name, p := range d.Expressions {
			e, ok := affect.ParseEmotion(strings.ToLower(name))
			if !ok || math.IsNaN(p) {
				continue
			}
			out.Expressions[e] = p
			best = math.Max(best, p)
		}
		if best < MinExpressionConfidence {
			if d.Geometry == nil {
				return Facial{}, ErrNoSignal
			}
			out.Expressions = nil
		}
	}
	if d.Geometry != nil {
		out.Geometry = *d.Geometry
	} else if len(out.Expressions) == 0 {
		return Facial{}, ErrNoSignal
	}
	return out, nil
}

// GeometryFromRects derives Geometry from cascade-style detections: a face
// box, eye boxes and mouth boxes, the latter two relative to the face. Only
// the first two eyes and the first mouth are used.
func GeometryFromRects(face Rect, eyes, mouths []Rect) Geometry {
	if face.W <= 0 || face.H <= 0 {
		return Geometry{}
	}
	g := Geometry{FaceAspectRatio: face.W / face.H}

	if len(eyes) >= 2 {
		e1, e2 := eyes[0], eyes[1]
		g.EyeDistanceNorm = math.Abs(e1.centerX()-e2.centerX()) / face.W
		g.EyeSizeNorm = (e1.W + e2.W) / 2 / face.W
	}

	if len(mouths) > 0 {
		m := mouths[0]
		g.MouthWidthNorm = m.W / face.W
		g.MouthHeightNorm = m.H / face.H
		h := m.H
		if h == 0 {
			h = 1
		}
		g.MouthAspectRatio = m.W / h
	}
	return g
}
