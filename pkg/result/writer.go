package result

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/stat"
	"wbbaudit/pkg/log"
	"wbbaudit/pkg/protocol"
)

// Writer creates the CSV result files of one run.
type Writer struct {
	resultsPath string
	runID       string
}

// NewWriter creates a new writer for result files.
func NewWriter(resultsPath, runID string) *Writer {
	return &Writer{resultsPath: resultsPath, runID: runID}
}

// WriteReport writes the outcome and timing files of a report and returns their paths.
func (w *Writer) WriteReport(report *protocol.Report) ([]string, error) {
	if err := os.MkdirAll(w.resultsPath, 0755); err != nil {
		return nil, xerrors.Errorf("result: creating results directory %s: %w", w.resultsPath, err)
	}
	outcomes, err := w.writeOutcomes(report)
	if err != nil {
		return nil, xerrors.Errorf("result: writing outcomes: %w", err)
	}
	stats, err := w.writeStats(report)
	if err != nil {
		return nil, xerrors.Errorf("result: writing timing statistics: %w", err)
	}
	return []string{outcomes, stats}, nil
}

// generateFilename creates a standardized filename for a result file.
// Example: OUTCOMES_commits_R_3f2a..._T_2025-01-02-15-04-05.csv
func (w *Writer) generateFilename(fileType, name string) string {
	timestamp := time.Now().Format("2006-01-02-15-04-05")
	return filepath.Join(w.resultsPath, fmt.Sprintf("%s_%s_R_%s_T_%s.csv", fileType, name, w.runID, timestamp))
}

// writeOutcomes saves one row per verified round or ballot.
func (w *Writer) writeOutcomes(report *protocol.Report) (string, error) {
	filePath := w.generateFilename("OUTCOMES", report.Name)
	file, err := os.Create(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	csvWriter := csv.NewWriter(file)
	if err := csvWriter.Write([]string{"ID", "Verified", "Failure", "Elapsed_us", "Expected", "Computed", "Message"}); err != nil {
		return "", err
	}
	for _, o := range report.Outcomes {
		row := []string{
			o.ID,
			strconv.FormatBool(o.Verified),
			o.Kind.String(),
			strconv.FormatInt(o.Elapsed.Microseconds(), 10),
			o.Expected,
			o.Computed,
			o.Message,
		}
		if err := csvWriter.Write(row); err != nil {
			return "", err
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return "", err
	}
	log.Info("Outcomes written to %s", filePath)
	return filePath, nil
}

// writeStats saves timing statistics per failure kind, plus a row over all outcomes.
func (w *Writer) writeStats(report *protocol.Report) (string, error) {
	filePath := w.generateFilename("STATS", report.Name)
	file, err := os.Create(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	csvWriter := csv.NewWriter(file)
	header := []string{"Group", "Count", "Mean_us", "Median_us", "Min_us", "Max_us", "P5_us", "P95_us"}
	if err := csvWriter.Write(header); err != nil {
		return "", err
	}

	groups := map[string][]time.Duration{"all": report.Durations()}
	for _, o := range report.Outcomes {
		groups[o.Kind.String()] = append(groups[o.Kind.String()], o.Elapsed)
	}
	for _, name := range getSortedKeys(groups) {
		if err := writeStatsRow(csvWriter, name, groups[name]); err != nil {
			return "", err
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return "", err
	}
	log.Info("Timing statistics written to %s", filePath)
	return filePath, nil
}

// writeStatsRow calculates statistics for a set of durations and writes them to a CSV row.
func writeStatsRow(writer *csv.Writer, group string, durations []time.Duration) error {
	if len(durations) == 0 {
		return nil
	}

	floats := convertDurationsToFloats(durations)
	sort.Float64s(floats)

	mean := stat.Mean(floats, nil)
	median := stat.Quantile(0.5, stat.Empirical, floats, nil)
	p5 := stat.Quantile(0.05, stat.Empirical, floats, nil)
	p95 := stat.Quantile(0.95, stat.Empirical, floats, nil)

	row := []string{
		group,
		strconv.Itoa(len(floats)),
		strconv.FormatFloat(mean, 'f', -1, 64),
		strconv.FormatFloat(median, 'f', -1, 64),
		strconv.FormatFloat(floats[0], 'f', -1, 64),
		strconv.FormatFloat(floats[len(floats)-1], 'f', -1, 64),
		strconv.FormatFloat(p5, 'f', -1, 64),
		strconv.FormatFloat(p95, 'f', -1, 64),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write stats row for %s: %w", group, err)
	}
	return nil
}

func getSortedKeys(m map[string][]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// convertDurationsToFloats converts a slice of time.Duration to a slice of float64 (in microseconds).
func convertDurationsToFloats(d []time.Duration) []float64 {
	floats := make([]float64, len(d))
	for i, v := range d {
		floats[i] = float64(v.Microseconds())
	}
	return floats
}
