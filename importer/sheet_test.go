package importer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"lab_key_tracker/auth"
	"lab_key_tracker/db"
	"lab_key_tracker/db/dbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows ...[]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestImportKeys(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01")

	book := workbook(t,
		[]any{"Key ID", "Lab"},
		[]any{"K01", "Chemistry"},
		[]any{"K02", "Physics"},
		[]any{"", "Nowhere"},
		[]any{},
		[]any{"K02", "Again"},
		[]any{"K03", ""},
	)
	res, err := ImportKeys(ctx, r, book)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, 4, res.Errors[0].Row)
	assert.Equal(t, 6, res.Errors[1].Row)
	assert.Equal(t, 7, res.Errors[2].Row)

	k, err := r.FindKey(ctx, "K01")
	require.NoError(t, err)
	assert.Equal(t, "Chemistry", k.Lab)
}

func TestImportKeysNeedsHeader(t *testing.T) {
	r := dbtest.New(t)
	_, err := ImportKeys(context.Background(), r, workbook(t, []any{"something", "else"}))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestImportTeachers(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()

	book := workbook(t,
		[]any{"Teacher ID", "Name", "Department", "Password"},
		[]any{"T001", "Ada", "Science", "secret1"},
		[]any{"T002", "Grace", "", ""},
		[]any{"T003", "", "Math", ""},
		[]any{"T004", "Short", "", "123"},
	)
	res, err := ImportTeachers(ctx, r, book)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 4, res.Errors[0].Row)
	assert.Equal(t, 5, res.Errors[1].Row)

	tc, err := r.FindTeacher(ctx, "T001")
	require.NoError(t, err)
	require.NotNil(t, tc.Department)
	assert.Equal(t, "Science", *tc.Department)
	assert.NoError(t, auth.CheckPassword(tc.PasswordHash, "secret1"))
	tc, err = r.FindTeacher(ctx, "T002")
	require.NoError(t, err)
	assert.Nil(t, tc.Department)
}

func TestWriteLedger(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01", "K02")
	dbtest.SeedTeachers(t, r, "T1")
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	_, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T1", At: at})
	require.NoError(t, err)
	_, err = r.Borrow(ctx, db.BorrowInput{KeyID: "K02", TeacherID: "T1", At: at.Add(30 * time.Hour)})
	require.NoError(t, err)

	rows, err := r.ListTransactions(ctx, db.TransactionQuery{Now: at.Add(31 * time.Hour)})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteLedger(&buf, rows.Items, time.UTC))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{ledgerSheet}, f.GetSheetList())
	got, err := f.GetRows(ledgerSheet)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Overdue", got[0][11])
	// newest first: K02 is not overdue, K01 is
	assert.Equal(t, "K02", got[1][1])
	assert.Equal(t, "K01", got[2][1])
	assert.Equal(t, "2026-03-02 08:00", got[2][6])
	require.Len(t, got[2], 12)
	assert.Equal(t, "yes", got[2][11])
}
