package clients

import "context"

// --- Visualization ---

// TimelineReq plots the dominant category per window over time.
type TimelineReq struct {
	Timestamps  []float64 `json:"timestamps"`
	Categories  []string  `json:"categories"`
	Confidences []float64 `json:"confidences,omitempty"`
	OutputDir   string    `json:"output_dir,omitempty"`
}

type TimelineResp struct{ Status, Path string }

func (h *HTTP) GenerateTimeline(ctx context.Context, url string, req TimelineReq) (*TimelineResp, error) {
	var out TimelineResp
	if err := h.postJSON(ctx, "viz timeline", url+"/generate-timeline", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RadarReq plots a category distribution.
type RadarReq struct {
	Categories []string  `json:"categories"`
	Values     []float64 `json:"values"`
	Title      string    `json:"title"`
	OutputDir  string    `json:"output_dir,omitempty"`
}
type RadarResp struct{ Status, Path string }

func (h *HTTP) GenerateRadar(ctx context.Context, url string, req RadarReq) (*RadarResp, error) {
	var out RadarResp
	if err := h.postJSON(ctx, "viz radar", url+"/generate-radar", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
