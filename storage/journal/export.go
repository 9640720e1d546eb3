package journal

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

var csvHeader = []string{
	"id", "kind", "state", "reason", "amount", "accounts", "message",
	"error_field", "error_code", "error_message", "created_at", "settled_at",
}

// ExportCSV writes the entries matching filter to w, newest first.
func (j *Journal) ExportCSV(ctx context.Context, w io.Writer, filter Filter) (int, error) {
	entries, err := j.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("journal: write csv header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.ID,
			e.Kind,
			e.State,
			e.Reason,
			strconv.FormatInt(e.Amount, 10),
			e.Accounts,
			e.Message,
			e.ErrorField,
			e.ErrorCode,
			e.ErrorMessage,
			e.CreatedAt.Format(time.RFC3339),
			formatTime(e.SettledAt),
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("journal: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("journal: flush csv: %w", err)
	}
	return len(entries), nil
}

type parquetRow struct {
	ID           string `parquet:"name=id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Kind         string `parquet:"name=kind, type=UTF8, encoding=PLAIN_DICTIONARY"`
	State        string `parquet:"name=state, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Reason       string `parquet:"name=reason, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount       int64  `parquet:"name=amount, type=INT64"`
	Accounts     string `parquet:"name=accounts, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Message      string `parquet:"name=message, type=UTF8, encoding=PLAIN_DICTIONARY"`
	ErrorCode    string `parquet:"name=error_code, type=UTF8, encoding=PLAIN_DICTIONARY"`
	ErrorMessage string `parquet:"name=error_message, type=UTF8, encoding=PLAIN_DICTIONARY"`
	CreatedAt    string `parquet:"name=created_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
	SettledAt    string `parquet:"name=settled_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// ExportParquet writes the entries matching filter to w as a Snappy
// compressed Parquet file.
func (j *Journal) ExportParquet(ctx context.Context, w io.Writer, filter Filter) (int, error) {
	entries, err := j.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return 0, fmt.Errorf("journal: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, e := range entries {
		row := &parquetRow{
			ID:           e.ID,
			Kind:         e.Kind,
			State:        e.State,
			Reason:       e.Reason,
			Amount:       e.Amount,
			Accounts:     e.Accounts,
			Message:      e.Message,
			ErrorCode:    e.ErrorCode,
			ErrorMessage: e.ErrorMessage,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
			SettledAt:    formatTime(e.SettledAt),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return 0, fmt.Errorf("journal: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return 0, fmt.Errorf("journal: parquet flush: %w", err)
	}
	return len(entries), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
