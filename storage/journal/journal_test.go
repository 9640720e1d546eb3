package journal

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"perq/native/common"
	"perq/native/ledger"
	"perq/native/simulator"
)

var testBase = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func committed(id string, kind simulator.Kind, amount int64, at time.Time) simulator.Transaction {
	settled := at.Add(1500 * time.Millisecond)
	return simulator.Transaction{
		ID:        id,
		Kind:      kind,
		Accounts:  []string{"1", "4"},
		Amount:    amount,
		State:     simulator.StateCommitted,
		Receipt:   &simulator.Receipt{Message: "points redeemed", Debits: []ledger.Movement{{CardID: "4", Points: amount}}},
		CreatedAt: at,
		SettledAt: &settled,
	}
}

func rejected(id string, at time.Time) simulator.Transaction {
	return simulator.Transaction{
		ID:        id,
		Kind:      simulator.KindRedeem,
		Amount:    5000,
		State:     simulator.StateRejected,
		Reason:    string(common.CodeInsufficientPoints),
		Error:     &common.ValidationError{Field: "points", Code: common.CodeInsufficientPoints, Message: "not enough points"},
		CreatedAt: at,
		SettledAt: &at,
	}
}

func TestRecordAndList(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, committed("tx-1", simulator.KindRedeem, 1000, testBase)))
	require.NoError(t, j.Record(ctx, committed("tx-2", simulator.KindStake, 25000, testBase.Add(time.Minute))))
	require.NoError(t, j.Record(ctx, rejected("tx-3", testBase.Add(2*time.Minute))))

	entries, err := j.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "tx-3", entries[0].ID)
	require.Equal(t, "insufficient_points", entries[0].ErrorCode)
	require.Equal(t, "points", entries[0].ErrorField)
	require.Equal(t, []string{"1", "4"}, entries[2].AccountIDs())
	require.Contains(t, entries[2].Receipt, `"cardId":"4"`)

	stakes, err := j.List(ctx, Filter{Kind: "Stake"})
	require.NoError(t, err)
	require.Len(t, stakes, 1)
	require.Equal(t, int64(25000), stakes[0].Amount)

	limited, err := j.List(ctx, Filter{State: "committed", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "tx-2", limited[0].ID)
}

func TestRecordReplacesSameID(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, committed("tx-1", simulator.KindRedeem, 1000, testBase)))
	updated := committed("tx-1", simulator.KindRedeem, 2000, testBase)
	require.NoError(t, j.Record(ctx, updated))

	entry, err := j.Get(ctx, "tx-1")
	require.NoError(t, err)
	require.Equal(t, int64(2000), entry.Amount)

	_, err = j.Get(ctx, "missing")
	require.Error(t, err)
}

func TestExportCSV(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, committed("tx-1", simulator.KindRedeem, 1000, testBase)))
	require.NoError(t, j.Record(ctx, rejected("tx-2", testBase.Add(time.Minute))))

	var buf bytes.Buffer
	n, err := j.ExportCSV(ctx, &buf, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, "tx-2", records[1][0])
	require.Equal(t, "insufficient_points", records[1][8])
	require.Equal(t, "2025-03-01T09:00:01Z", records[2][11])
}

func TestExportParquet(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	for i, id := range []string{"tx-1", "tx-2", "tx-3"} {
		require.NoError(t, j.Record(ctx, committed(id, simulator.KindConvert, int64(1000*(i+1)), testBase.Add(time.Duration(i)*time.Minute))))
	}

	path := filepath.Join(t.TempDir(), "journal.parquet")
	file, err := os.Create(path)
	require.NoError(t, err)
	n, err := j.ExportParquet(ctx, file, Filter{Kind: "convert"})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, file.Close())

	pf, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer pf.Close()
	pr, err := reader.NewParquetReader(pf, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())

	rows := make([]parquetRow, 3)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, "tx-3", rows[0].ID)
	require.Equal(t, int64(3000), rows[0].Amount)
	require.Equal(t, "committed", rows[0].State)
	require.Equal(t, "convert", rows[2].Kind)
	require.Equal(t, "tx-1", rows[2].ID)
}

func TestClosedJournal(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.ErrorIs(t, j.Record(context.Background(), committed("tx-1", simulator.KindRedeem, 1, testBase)), ErrClosed)
}
