package experiment

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"scene-bench/internal/learn"
	"scene-bench/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Report file names inside the run directory
const (
	SummaryFile   = "summary.txt"
	CVResultsFile = "cv_results.csv"
	ResultsFile   = "results.json"
	MetricsFile   = "metrics.prom"
)

// Reporter generates experiment reports
type Reporter struct {
	results *Results
	metrics *metrics.Metrics
	dir     string
	out     io.Writer
}

// NewReporter creates a reporter writing to <outputPath>/<name>-<run id>.
// m may be nil, in which case no metrics textfile is written.
func NewReporter(results *Results, outputPath string, m *metrics.Metrics) *Reporter {
	return &Reporter{
		results: results,
		metrics: m,
		dir:     results.Dir(outputPath),
		out:     os.Stdout,
	}
}

// Dir is the directory the report is written to.
func (r *Reporter) Dir() string {
	return r.dir
}

// GenerateReport generates all report formats
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}

	if err := r.generateCVResults(); err != nil {
		return err
	}

	if err := r.generateJSONReport(); err != nil {
		return err
	}

	if err := r.generateMetricsReport(); err != nil {
		return err
	}

	return nil
}

// generateSummary generates a human-readable summary
func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.dir, SummaryFile)
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	res := r.results
	fmt.Fprintf(file, "EXPERIMENT SUMMARY\n")
	fmt.Fprintf(file, "==================\n\n")

	fmt.Fprintf(file, "Name: %s\n", res.Name)
	fmt.Fprintf(file, "Run ID: %s\n", res.RunID)
	fmt.Fprintf(file, "Started: %s\n", res.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(file, "Duration: %s\n\n", res.Duration.Round(time.Millisecond))

	fmt.Fprintf(file, "DATA\n")
	fmt.Fprintf(file, "----\n")
	fmt.Fprintf(file, "Train Images: %d\n", res.TrainSize)
	fmt.Fprintf(file, "Test Images: %d\n", res.TestSize)
	fmt.Fprintf(file, "Classes: %d\n", len(res.Classes))
	if r.metrics != nil {
		fmt.Fprintf(file, "Descriptor Cache Hit Rate: %.2f%%\n", r.metrics.CacheHitRate()*100)
	}
	fmt.Fprintln(file)

	fmt.Fprintf(file, "CROSS-VALIDATION\n")
	fmt.Fprintf(file, "----------------\n")
	fmt.Fprintf(file, "Folds: %d\n", res.Folds)
	fmt.Fprintf(file, "Candidates: %d\n", len(res.CV))
	fmt.Fprintf(file, "Best Params: %s\n", learn.FormatParams(res.BestParams))
	fmt.Fprintf(file, "Best CV Score: %.4f\n", res.BestScore)
	fmt.Fprintf(file, "Refit Time: %s\n\n", res.RefitTime.Round(time.Millisecond))

	fmt.Fprintf(file, "TEST\n")
	fmt.Fprintf(file, "----\n")
	fmt.Fprintf(file, "Accuracy: %.4f\n", res.Accuracy)

	if len(res.Confusion) > 0 {
		fmt.Fprintf(file, "\nPER-CLASS ACCURACY\n")
		fmt.Fprintf(file, "------------------\n")
		for i, row := range res.Confusion {
			total := 0
			for _, n := range row {
				total += n
			}
			acc := 0.0
			if total > 0 {
				acc = float64(row[i]) / float64(total)
			}
			fmt.Fprintf(file, "%s: %d images, %.2f%%\n", res.Classes[i], total, acc*100)
		}

		fmt.Fprintf(file, "\nCONFUSION MATRIX\n")
		fmt.Fprintf(file, "----------------\n")
		if err := r.writeConfusion(file); err != nil {
			return err
		}
	}

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

func (r *Reporter) writeConfusion(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "\t")
	for _, c := range r.results.Classes {
		fmt.Fprintf(tw, "%s\t", c)
	}
	fmt.Fprintln(tw)
	for i, row := range r.results.Confusion {
		fmt.Fprintf(tw, "%s\t", r.results.Classes[i])
		for _, n := range row {
			fmt.Fprintf(tw, "%d\t", n)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

// generateCVResults writes one row per candidate: timings, parameters, split
// scores and rank.
func (r *Reporter) generateCVResults() error {
	csvPath := filepath.Join(r.dir, CVResultsFile)
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CV results: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	res := r.results
	names := learn.ParamNames(res.CV)
	withTrain := len(res.CV) > 0 && res.CV[0].SplitTrainScores != nil

	header := []string{"mean_fit_time", "std_fit_time", "mean_score_time", "std_score_time"}
	for _, n := range names {
		header = append(header, "param_"+n)
	}
	header = append(header, "params")
	for f := 0; f < res.Folds; f++ {
		header = append(header, fmt.Sprintf("split%d_test_score", f))
	}
	header = append(header, "mean_test_score", "std_test_score", "rank_test_score")
	if withTrain {
		for f := 0; f < res.Folds; f++ {
			header = append(header, fmt.Sprintf("split%d_train_score", f))
		}
		header = append(header, "mean_train_score", "std_train_score")
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, cv := range res.CV {
		record := []string{
			formatFloat(cv.MeanFitTime),
			formatFloat(cv.StdFitTime),
			formatFloat(cv.MeanScoreTime),
			formatFloat(cv.StdScoreTime),
		}
		for _, n := range names {
			v, ok := cv.Params[n]
			if !ok {
				record = append(record, "")
				continue
			}
			record = append(record, fmt.Sprint(v))
		}
		record = append(record, learn.FormatParams(cv.Params))
		for _, s := range cv.SplitTestScores {
			record = append(record, formatFloat(s))
		}
		record = append(record,
			formatFloat(cv.MeanTestScore),
			formatFloat(cv.StdTestScore),
			strconv.Itoa(cv.RankTestScore),
		)
		if withTrain {
			for _, s := range cv.SplitTrainScores {
				record = append(record, formatFloat(s))
			}
			record = append(record, formatFloat(cv.MeanTrainScore), formatFloat(cv.StdTrainScore))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	log.Info().Str("file", csvPath).Msg("CV results generated")
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// generateJSONReport generates a JSON report with all data
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.dir, ResultsFile)
	res := r.results

	cv := make([]map[string]interface{}, len(res.CV))
	for i, c := range res.CV {
		entry := map[string]interface{}{
			"params":            c.Params,
			"split_test_scores": c.SplitTestScores,
			"mean_test_score":   c.MeanTestScore,
			"std_test_score":    c.StdTestScore,
			"rank_test_score":   c.RankTestScore,
			"mean_fit_time":     c.MeanFitTime,
			"std_fit_time":      c.StdFitTime,
			"mean_score_time":   c.MeanScoreTime,
			"std_score_time":    c.StdScoreTime,
		}
		if c.SplitTrainScores != nil {
			entry["split_train_scores"] = c.SplitTrainScores
			entry["mean_train_score"] = c.MeanTrainScore
			entry["std_train_score"] = c.StdTrainScore
		}
		cv[i] = entry
	}

	report := map[string]interface{}{
		"summary": map[string]interface{}{
			"run_id":           res.RunID,
			"name":             res.Name,
			"started_at":       res.StartedAt,
			"duration_seconds": res.Duration.Seconds(),
			"accuracy":         res.Accuracy,
			"best_params":      res.BestParams,
			"best_score":       res.BestScore,
			"folds":            res.Folds,
			"refit_seconds":    res.RefitTime.Seconds(),
			"train_size":       res.TrainSize,
			"test_size":        res.TestSize,
		},
		"classes":      res.Classes,
		"confusion":    res.Confusion,
		"cv_results":   cv,
		"generated_at": time.Now(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

// generateMetricsReport dumps the run's Prometheus metrics as a textfile
func (r *Reporter) generateMetricsReport() error {
	if r.metrics == nil {
		return nil
	}
	metricsPath := filepath.Join(r.dir, MetricsFile)
	if err := r.metrics.WriteTextfile(metricsPath); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}

	log.Info().Str("file", metricsPath).Msg("Metrics report generated")
	return nil
}

// PrintSummary prints the CV table, the best parameters and the test
// accuracy to stdout.
func (r *Reporter) PrintSummary() {
	res := r.results

	order := make([]int, len(res.CV))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return res.CV[order[a]].RankTestScore < res.CV[order[b]].RankTestScore
	})

	fmt.Fprintln(r.out, "\n=== CV RESULTS ===")
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "rank\tmean_test_score\tstd_test_score\tmean_fit_time\tparams")
	for _, i := range order {
		c := res.CV[i]
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.3fs\t%s\n",
			c.RankTestScore, c.MeanTestScore, c.StdTestScore, c.MeanFitTime, learn.FormatParams(c.Params))
	}
	tw.Flush()
	fmt.Fprintln(r.out, "==================")

	fmt.Fprintf(r.out, "Best params: %s\n", learn.FormatParams(res.BestParams))
	fmt.Fprintf(r.out, "Accuracy: %v\n", res.Accuracy)
}
