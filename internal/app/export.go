package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"algo-status-ingest/internal/storage"
)

// Export renders per-day ingest volume as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -opts.MaxPoints)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	counts, err := store.CountRecordsByDay(ctx, from, to)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		a.Logger.Info().Msg("no ingested rows in export window")
		return nil
	}

	downsampled := downsampleCounts(counts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(counts)).Int("exported", len(downsampled)).Msg("exporting daily counts")

	if opts.CSVPath != "" {
		if err := writeCountsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeCountsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleCounts(counts []storage.DailyCount, max int) []storage.DailyCount {
	if max <= 0 || len(counts) <= max {
		return counts
	}

	result := make([]storage.DailyCount, 0, max)
	step := float64(len(counts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(counts) {
			idx = len(counts) - 1
		}
		result = append(result, counts[idx])
	}
	return result
}

func writeCountsCSV(path string, counts []storage.DailyCount) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"day", "rows_ingested"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, count := range counts {
		record := []string{
			count.Day.UTC().Format("2006-01-02"),
			strconv.FormatInt(count.Rows, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeCountsPNG(path string, counts []storage.DailyCount) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(counts))
	rows := make([]float64, len(counts))
	for i, count := range counts {
		x[i] = count.Day
		rows[i] = float64(count.Rows)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rows ingested",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Rows/day",
				XValues: x,
				YValues: rows,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
