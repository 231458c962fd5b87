package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Summary describes one offline analysis.
type Summary struct {
	SessionID   string    `json:"session_id"`
	Dir         string    `json:"dir"`
	AudioPath   string    `json:"audio_path"`
	GeneratedAt time.Time `json:"generated_at"`
	Duration    float64   `json:"duration"`
	Utterances  int       `json:"utterances"`
	Windows     int       `json:"windows"`
	// Distribution is the emotion share over every reading of the
	// recording; Dominant is its largest entry.
	Distribution map[string]float64 `json:"distribution"`
	Dominant     string             `json:"dominant"`
}

func mkSessionDir(outputsRoot string, now time.Time) (string, string, error) {
	name := "session_" + now.Format("20060102-150405")
	dir := filepath.Join(outputsRoot, name)
	if _, err := os.Stat(dir); err == nil {
		dir += "_" + uuid.NewString()[:8]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	return uuid.NewString(), dir, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// persist writes windows.json and summary.json into a new session
// directory under outputsRoot and fills in sum's id and directory.
func persist(outputsRoot string, sum *Summary, windows []Window) error {
	sid, dir, err := mkSessionDir(outputsRoot, sum.GeneratedAt)
	if err != nil {
		return err
	}
	sum.SessionID, sum.Dir = sid, dir

	if err = writeJSON(filepath.Join(dir, "windows.json"), windows); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "summary.json"), sum)
}
