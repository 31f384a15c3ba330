package importer

import (
	"fmt"
	"io"
	"time"

	"lab_key_tracker/db"

	"github.com/xuri/excelize/v2"
)

const (
	ledgerSheet  = "Transactions"
	ledgerLayout = "2006-01-02 15:04"
)

var ledgerHeader = []string{
	"ID", "Key", "Lab", "Teacher ID", "Teacher", "Department",
	"Borrowed", "Returned", "Purpose", "Remarks", "Returned By", "Overdue",
}

// WriteLedger renders ledger rows as an xlsx workbook. Times are shown in loc.
func WriteLedger(w io.Writer, rows []db.TransactionRow, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(ledgerSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	if err := f.SetSheetRow(ledgerSheet, "A1", &ledgerHeader); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(ledgerSheet, 1, 1, bold); err != nil {
		return err
	}

	for i, r := range rows {
		returned := ""
		if r.ReturnDate != nil {
			returned = r.ReturnDate.In(loc).Format(ledgerLayout)
		}
		overdue := ""
		if r.Overdue {
			overdue = "yes"
		}
		line := []any{
			r.ID, r.KeyID, deref(r.Lab), r.TeacherID, deref(r.TeacherName), deref(r.Department),
			r.BorrowDate.In(loc).Format(ledgerLayout), returned,
			deref(r.Purpose), deref(r.Remarks), deref(r.ReturnedBy), overdue,
		}
		if err := f.SetSheetRow(ledgerSheet, fmt.Sprintf("A%d", i+2), &line); err != nil {
			return err
		}
	}

	for col, width := range map[string]float64{"A": 8, "B": 10, "C": 20, "D": 12, "E": 20, "F": 18, "G": 17, "H": 17, "I": 28, "J": 28, "K": 14, "L": 9} {
		if err := f.SetColWidth(ledgerSheet, col, col, width); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
