package evaluation

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Reporter writes evaluation reports
type Reporter struct {
	results    *Results
	outputPath string
}

func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport writes every report format into the output directory.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateMisclassifiedLog(); err != nil {
		return err
	}
	if err := r.generateJSONReport(); err != nil {
		return err
	}
	return r.generateDailyReport()
}

func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, "evaluation_summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	r.writeSummary(file)

	categoryStats := r.calculateCategoryStats()
	if len(categoryStats) > 0 {
		fmt.Fprintf(file, "\nRECALL BY CATEGORY\n")
		fmt.Fprintf(file, "------------------\n")
		names := make([]string, 0, len(categoryStats))
		for name := range categoryStats {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := categoryStats[name]
			fmt.Fprintf(file, "%s: %d transactions, %d frauds, %.2f%% recall\n",
				name, s.Count, s.Frauds, s.Recall*100)
		}
	}

	log.Info().Str("file", summaryPath).Msg("summary report generated")
	return nil
}

func (r *Reporter) writeSummary(w io.Writer) {
	res := r.results
	fmt.Fprintf(w, "FRAUD DETECTION EVALUATION\n")
	fmt.Fprintf(w, "==========================\n\n")
	fmt.Fprintf(w, "Model: %s %s\n", res.Model, res.Version)
	if !res.StartTime.IsZero() {
		fmt.Fprintf(w, "Time Period: %s to %s\n\n",
			res.StartTime.Format("2006-01-02 15:04:05"),
			res.EndTime.Format("2006-01-02 15:04:05"))
	}

	fmt.Fprintf(w, "CONFUSION MATRIX\n")
	fmt.Fprintf(w, "----------------\n")
	fmt.Fprintf(w, "True Positives: %d\n", res.TruePositives)
	fmt.Fprintf(w, "False Positives: %d\n", res.FalsePositives)
	fmt.Fprintf(w, "True Negatives: %d\n", res.TrueNegatives)
	fmt.Fprintf(w, "False Negatives: %d\n\n", res.FalseNegatives)

	fmt.Fprintf(w, "METRICS\n")
	fmt.Fprintf(w, "-------\n")
	fmt.Fprintf(w, "Transactions: %d\n", res.Total)
	fmt.Fprintf(w, "Accuracy: %.2f%%\n", res.Accuracy*100)
	fmt.Fprintf(w, "Precision: %.2f%%\n", res.Precision*100)
	fmt.Fprintf(w, "Recall: %.2f%%\n", res.Recall*100)
	fmt.Fprintf(w, "F1 Score: %.4f\n", res.F1Score)
	fmt.Fprintf(w, "Predicted Fraud Rate: %.3f%%\n", res.PredictedRate*100)
	fmt.Fprintf(w, "Actual Fraud Rate: %.3f%%\n", res.ActualFraudRate*100)
}

// generateMisclassifiedLog lists false positives and false negatives.
func (r *Reporter) generateMisclassifiedLog() error {
	csvPath := filepath.Join(r.outputPath, "misclassified.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create misclassified log: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"trans_num", "trans_date_trans_time", "category", "amt", "score", "predicted_fraud", "is_fraud"}
	if err := writer.Write(header); err != nil {
		return err
	}

	written := 0
	for _, o := range r.results.Outcomes {
		if o.Correct() {
			continue
		}
		ts := ""
		if !o.Time.IsZero() {
			ts = o.Time.Format("2006-01-02 15:04:05")
		}
		record := []string{
			o.TransNum,
			ts,
			o.Category,
			fmt.Sprintf("%.2f", o.Amount),
			strconv.FormatFloat(o.Score, 'g', 6, 64),
			strconv.FormatBool(o.Predicted),
			strconv.FormatBool(o.Actual),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
		written++
	}

	log.Info().Str("file", csvPath).Int("rows", written).Msg("misclassified log generated")
	return nil
}

func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "evaluation_results.json")

	report := map[string]interface{}{
		"summary":      r.results,
		"categories":   r.calculateCategoryStats(),
		"generated_at": time.Now(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

func (r *Reporter) generateDailyReport() error {
	dailyPath := filepath.Join(r.outputPath, "daily_report.csv")
	file, err := os.Create(dailyPath)
	if err != nil {
		return fmt.Errorf("failed to create daily report: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "transactions", "frauds", "flagged", "cumulative_recall", "cumulative_precision"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, m := range r.calculateDailyMetrics() {
		record := []string{
			m.Date.Format("2006-01-02"),
			strconv.Itoa(m.Transactions),
			strconv.Itoa(m.Frauds),
			strconv.Itoa(m.Flagged),
			fmt.Sprintf("%.4f", m.CumulativeRecall),
			fmt.Sprintf("%.4f", m.CumulativePrecision),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	log.Info().Str("file", dailyPath).Msg("daily report generated")
	return nil
}

// CategoryStats holds detection statistics for one merchant category
type CategoryStats struct {
	Count  int     `json:"count"`
	Frauds int     `json:"frauds"`
	Caught int     `json:"caught"`
	Recall float64 `json:"recall"`
}

func (r *Reporter) calculateCategoryStats() map[string]*CategoryStats {
	stats := make(map[string]*CategoryStats)

	for _, o := range r.results.Outcomes {
		if o.Category == "" {
			continue
		}
		s, ok := stats[o.Category]
		if !ok {
			s = &CategoryStats{}
			stats[o.Category] = s
		}
		s.Count++
		if o.Actual {
			s.Frauds++
			if o.Predicted {
				s.Caught++
			}
		}
	}

	for _, s := range stats {
		s.Recall = ratio(s.Caught, s.Frauds)
	}
	return stats
}

// DailyMetrics holds cumulative detection metrics up to a day
type DailyMetrics struct {
	Date                time.Time
	Transactions        int
	Frauds              int
	Flagged             int
	CumulativeRecall    float64
	CumulativePrecision float64
}

func (r *Reporter) calculateDailyMetrics() []DailyMetrics {
	daily := make(map[string][]Outcome)
	for _, o := range r.results.Outcomes {
		if o.Time.IsZero() {
			continue
		}
		day := o.Time.Format("2006-01-02")
		daily[day] = append(daily[day], o)
	}
	if len(daily) == 0 {
		return nil
	}

	dates := make([]string, 0, len(daily))
	for date := range daily {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	var metrics []DailyMetrics
	var tp, fp, fn int
	for _, dateStr := range dates {
		date, _ := time.Parse("2006-01-02", dateStr)
		m := DailyMetrics{Date: date}

		for _, o := range daily[dateStr] {
			m.Transactions++
			if o.Actual {
				m.Frauds++
			}
			if o.Predicted {
				m.Flagged++
			}
			switch {
			case o.Predicted && o.Actual:
				tp++
			case o.Predicted:
				fp++
			case o.Actual:
				fn++
			}
		}

		m.CumulativeRecall = ratio(tp, tp+fn)
		m.CumulativePrecision = ratio(tp, tp+fp)
		metrics = append(metrics, m)
	}

	return metrics
}

// PrintSummary writes the summary to stdout.
func (r *Reporter) PrintSummary() {
	fmt.Println()
	r.writeSummary(os.Stdout)
	fmt.Println("==========================")
}
