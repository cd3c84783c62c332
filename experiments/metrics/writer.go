package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Writer struct {
	runID   string
	baseDir string
}

// NewWriter creates a run directory under root named by the current
// timestamp and a fresh run id.
func NewWriter(root string) (*Writer, error) {
	runID := uuid.NewString()
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	baseDir := filepath.Join(root, timestamp+"_"+runID[:8])
	err := os.MkdirAll(baseDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &Writer{
		runID:   runID,
		baseDir: baseDir,
	}, nil
}

func (w *Writer) RunID() string {
	return w.runID
}

func (w *Writer) Dir() string {
	return w.baseDir
}

// WriteConfig stores the configuration a run was started with.
func (w *Writer) WriteConfig(cfg any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	err = os.WriteFile(filepath.Join(w.baseDir, "config.yaml"), data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (w *Writer) WriteEpochRecords(records []EpochMetric) error {
	header := []string{
		"epoch", "time_step", "vertex", "target", "edge", "steps",
		"info_cost", "time_cost", "total_cost", "nodes_reached", "reached_node", "fallback",
		"particles", "search_duration", "episodes", "rollouts", "collisions", "penalties", "is_tree_reused",
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.Itoa(r.Epoch),
			strconv.Itoa(r.TimeStep),
			strconv.FormatInt(r.Vertex, 10),
			strconv.FormatInt(r.Target, 10),
			strconv.FormatInt(r.Edge, 10),
			strconv.Itoa(r.Steps),
			formatFloat(r.InfoCost),
			formatFloat(r.TimeCost),
			formatFloat(r.TotalCost),
			strconv.Itoa(r.NodesReached),
			strconv.FormatBool(r.ReachedNode),
			strconv.FormatBool(r.Fallback),
			strconv.Itoa(r.Particles),
			r.Duration.String(),
			strconv.Itoa(r.Episodes),
			strconv.Itoa(r.Rollouts),
			strconv.Itoa(r.Collisions),
			strconv.Itoa(r.Penalties),
			strconv.FormatBool(r.IsTreeReused),
		})
	}
	return w.writeCSV("epochs.csv", "epoch records", header, rows)
}

func (w *Writer) WriteRunRecords(records []RunMetric) error {
	header := []string{
		"id", "seed", "particles", "start_time", "end_time", "duration", "epochs", "steps",
		"info_cost", "total_cost", "nodes_reached", "reached_goal", "collided",
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.ID,
			strconv.FormatUint(r.Seed, 10),
			strconv.Itoa(r.Particles),
			r.StartTime.Format(time.RFC3339),
			r.EndTime.Format(time.RFC3339),
			r.Duration.String(),
			strconv.Itoa(r.Epochs),
			strconv.Itoa(r.Steps),
			formatFloat(r.InfoCost),
			formatFloat(r.TotalCost),
			strconv.Itoa(r.NodesReached),
			strconv.FormatBool(r.ReachedGoal),
			strconv.FormatBool(r.Collided),
		})
	}
	return w.writeCSV("runs.csv", "run records", header, rows)
}

func (w *Writer) writeCSV(name, what string, header []string, rows [][]string) error {
	path := filepath.Join(w.baseDir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s file: %w", what, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)

	err = writer.Write(header)
	if err != nil {
		return fmt.Errorf("failed to write %s header: %w", what, err)
	}
	for _, row := range rows {
		err = writer.Write(row)
		if err != nil {
			return fmt.Errorf("failed to write %s row: %w", what, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", what, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
