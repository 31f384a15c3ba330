// Package importer reads key and teacher rosters from spreadsheets and writes the
// ledger back out as one.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"lab_key_tracker/auth"
	"lab_key_tracker/models"

	"github.com/xuri/excelize/v2"
)

var ErrNoHeader = errors.New("sheet has no recognisable header row")

// RowError points at a spreadsheet row that was skipped.
type RowError struct {
	Row int    `json:"row"`
	Msg string `json:"error"`
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %s", e.Row, e.Msg) }

type Result struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Errors  []RowError `json:"errors"`
}

type KeyUpserter interface {
	UpsertKey(ctx context.Context, keyID, lab string) (bool, error)
}

type TeacherUpserter interface {
	UpsertTeacher(ctx context.Context, t *models.Teacher) (bool, error)
}

var (
	keyColumns = map[string][]string{
		"key_id": {"key_id", "keyid", "key id", "key", "钥匙编号"},
		"lab":    {"lab", "laboratory", "room", "实验室"},
	}
	teacherColumns = map[string][]string{
		"id":         {"id", "teacher_id", "teacherid", "teacher id", "工号"},
		"name":       {"name", "teacher", "姓名"},
		"department": {"department", "dept", "部门"},
		"photo_url":  {"photo_url", "photo", "photourl", "照片"},
		"password":   {"password", "初始密码"},
	}
)

// readRows returns the data rows of the first sheet and the column index of every
// field found in the header.
func readRows(r io.Reader, columns map[string][]string, required ...string) ([][]string, map[string]int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, ErrNoHeader
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, ErrNoHeader
	}

	idx := map[string]int{}
	for i, h := range rows[0] {
		h = strings.ToLower(strings.TrimSpace(h))
		for field, names := range columns {
			for _, n := range names {
				if h == n {
					if _, seen := idx[field]; !seen {
						idx[field] = i
					}
				}
			}
		}
	}
	for _, field := range required {
		if _, ok := idx[field]; !ok {
			return nil, nil, fmt.Errorf("%w: missing column %q", ErrNoHeader, field)
		}
	}
	return rows[1:], idx, nil
}

func cell(row []string, idx map[string]int, field string) string {
	i, ok := idx[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ImportKeys upserts every key row. A bad row is reported and skipped; the rest
// still load.
func ImportKeys(ctx context.Context, store KeyUpserter, r io.Reader) (*Result, error) {
	rows, idx, err := readRows(r, keyColumns, "key_id", "lab")
	if err != nil {
		return nil, err
	}
	res := &Result{}
	seen := map[string]int{}
	for i, row := range rows {
		line := i + 2
		if blank(row) {
			continue
		}
		id, lab := cell(row, idx, "key_id"), cell(row, idx, "lab")
		switch {
		case id == "":
			res.Errors = append(res.Errors, RowError{line, "key id is empty"})
			continue
		case lab == "":
			res.Errors = append(res.Errors, RowError{line, "lab is empty"})
			continue
		}
		if prev, dup := seen[id]; dup {
			res.Errors = append(res.Errors, RowError{line, fmt.Sprintf("key %s repeats row %d", id, prev)})
			continue
		}
		seen[id] = line

		created, err := store.UpsertKey(ctx, id, lab)
		if err != nil {
			res.Errors = append(res.Errors, RowError{line, err.Error()})
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

func ImportTeachers(ctx context.Context, store TeacherUpserter, r io.Reader) (*Result, error) {
	rows, idx, err := readRows(r, teacherColumns, "id", "name")
	if err != nil {
		return nil, err
	}
	res := &Result{}
	seen := map[string]int{}
	for i, row := range rows {
		line := i + 2
		if blank(row) {
			continue
		}
		t := &models.Teacher{ID: cell(row, idx, "id"), Name: cell(row, idx, "name")}
		switch {
		case t.ID == "":
			res.Errors = append(res.Errors, RowError{line, "teacher id is empty"})
			continue
		case t.Name == "":
			res.Errors = append(res.Errors, RowError{line, "name is empty"})
			continue
		}
		if prev, dup := seen[t.ID]; dup {
			res.Errors = append(res.Errors, RowError{line, fmt.Sprintf("teacher %s repeats row %d", t.ID, prev)})
			continue
		}
		seen[t.ID] = line
		if d := cell(row, idx, "department"); d != "" {
			t.Department = &d
		}
		if p := cell(row, idx, "photo_url"); p != "" {
			t.PhotoURL = &p
		}
		if pw := cell(row, idx, "password"); pw != "" {
			hash, err := auth.HashPassword(pw)
			if err != nil {
				res.Errors = append(res.Errors, RowError{line, err.Error()})
				continue
			}
			t.PasswordHash = &hash
		}

		created, err := store.UpsertTeacher(ctx, t)
		if err != nil {
			res.Errors = append(res.Errors, RowError{line, err.Error()})
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}
