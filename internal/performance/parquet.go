package performance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// WriteParquet writes every record of result to a parquet file at filename
func WriteParquet(filename string, result *Result) (int, error) {
	records := result.Records()
	if len(records) == 0 {
		log.Info().Str("file", filename).Msg("No records to write to parquet")
		return 0, nil
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	fw, err := local.NewLocalFileWriter(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(PerformanceRow), 4)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_GZIP
	pw.PageSize = 8 * 1024 // 8KB pages

	for _, rec := range records {
		row, err := toRow(rec)
		if err != nil {
			return 0, err
		}
		if err := pw.Write(row); err != nil {
			return 0, fmt.Errorf("failed to write parquet data: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return 0, fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	log.Info().Int("records", len(records)).Str("file", filename).Msg("Wrote performance records to parquet")
	return len(records), nil
}

func toRow(rec map[string]any) (PerformanceRow, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return PerformanceRow{}, fmt.Errorf("failed to encode record: %w", err)
	}
	return PerformanceRow{
		Mac:       stringField(rec, "mac"),
		Name:      stringField(rec, "name"),
		Type:      stringField(rec, "type"),
		Mode:      stringField(rec, "mode"),
		Timestamp: stringField(rec, "timestamp"),
		Record:    string(raw),
	}, nil
}

func stringField(rec map[string]any, key string) string {
	v, ok := rec[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
