package features

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/affect-pipeline/affect"
)

type stubDetector struct {
	det *Detection
	err error
}

func (s stubDetector) Detect(context.Context, Frame) (*Detection, error) { return s.det, s.err }

func TestExtractFacial(t *testing.T) {
	boom := errors.New("boom")
	geo := &Geometry{MouthWidthNorm: 0.6}

	tests := []struct {
		name    string
		det     stubDetector
		wantErr error
		check   func(t *testing.T, f Facial)
	}{
		{name: "no face", det: stubDetector{}, wantErr: ErrNoSignal},
		{name: "detector failure", det: stubDetector{err: boom}, wantErr: boom},
		{
			name:    "classifier too unsure",
			det:     stubDetector{det: &Detection{Expressions: map[string]float64{"happy": 0.1, "sad": 0.15}}},
			wantErr: ErrNoSignal,
		},
		{
			name: "unsure classifier falls back to geometry",
			det: stubDetector{det: &Detection{
				Expressions: map[string]float64{"happy": 0.1, "sad": 0.15},
				Geometry:    geo,
			}},
			check: func(t *testing.T, f Facial) {
				assert.Nil(t, f.Expressions)
				assert.Equal(t, *geo, f.Geometry)
			},
		},
		{
			name:    "empty detection",
			det:     stubDetector{det: &Detection{}},
			wantErr: ErrNoSignal,
		},
		{
			name: "expressions mapped onto emotions",
			det: stubDetector{det: &Detection{Expressions: map[string]float64{
				"Happy": 0.7, "sad": 0.2, "contempt": 0.9,
			}}},
			check: func(t *testing.T, f Facial) {
				assert.Equal(t, map[affect.Emotion]float64{
					affect.EmotionHappy: 0.7,
					affect.EmotionSad:   0.2,
				}, f.Expressions)
			},
		},
		{
			name: "geometry only",
			det:  stubDetector{det: &Detection{Geometry: geo}},
			check: func(t *testing.T, f Facial) {
				assert.Empty(t, f.Expressions)
				assert.Equal(t, *geo, f.Geometry)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ExtractFacial(context.Background(), tt.det, Frame{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, f)
		})
	}
}

func TestGeometryFromRects(t *testing.T) {
	face := Rect{W: 100, H: 140}
	eyes := []Rect{{X: 20, Y: 30, W: 16, H: 8}, {X: 60, Y: 30, W: 14, H: 8}}
	mouth := []Rect{{X: 30, Y: 100, W: 40, H: 10}}

	g := GeometryFromRects(face, eyes, mouth)
	assert.InDelta(t, 100.0/140, g.FaceAspectRatio, 1e-9)
	assert.InDelta(t, 0.39, g.EyeDistanceNorm, 1e-9)
	assert.InDelta(t, 0.15, g.EyeSizeNorm, 1e-9)
	assert.InDelta(t, 0.4, g.MouthWidthNorm, 1e-9)
	assert.InDelta(t, 10.0/140, g.MouthHeightNorm, 1e-9)
	assert.InDelta(t, 4.0, g.MouthAspectRatio, 1e-9)

	assert.Zero(t, GeometryFromRects(Rect{}, eyes, mouth))

	partial := GeometryFromRects(face, eyes[:1], nil)
	assert.Zero(t, partial.EyeSizeNorm)
	assert.Zero(t, partial.MouthWidthNorm)
}
