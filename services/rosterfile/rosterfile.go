// Package rosterfile reads and writes roster spreadsheets. The first row is a header naming the columns,
// in any order.
package rosterfile

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/hilcoe/rms/core/roster"
)

const MaxRows = 5000

var (
	ErrNoData         = errors.New("roster file has no data rows (the first row is the header)")
	ErrTooManyRows    = errors.Errorf("roster file has more than %d rows", MaxRows)
	ErrBadHeader      = errors.New("roster file header must name student_id, first_name and last_name columns")
	ErrUnknownFormat  = errors.New("roster file must be .xlsx or .csv")
	exportHeader      = []interface{}{"student_id", "first_name", "middle_name", "last_name", "program", "verified_email"}
	exportSheet       = "Roster"
	studentIDHeaders  = []string{"student_id", "studentid", "student id", "id"}
	firstNameHeaders  = []string{"first_name", "firstname", "first name"}
	middleNameHeaders = []string{"middle_name", "middlename", "middle name"}
	lastNameHeaders   = []string{"last_name", "lastname", "last name", "surname"}
	programHeaders    = []string{"program", "programme", "department"}
)

// ReadFile reads the roster file at path.
func ReadFile(path string) ([]roster.NewEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening roster file")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()
	return Read(f, filepath.Base(path))
}

// Read reads a roster file, picking the format from name's extension.
func Read(r io.Reader, name string) ([]roster.NewEntry, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		records, err = readXLSX(r)
	case ".csv":
		records, err = readCSV(r)
	default:
		return nil, ErrUnknownFormat
	}
	if err != nil {
		return nil, err
	}
	return parse(records)
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "parsing xlsx")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, errors.Wrap(err, "reading first sheet")
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parsing csv")
	}
	return rows, nil
}

type columns struct {
	studentID, firstName, middleName, lastName, program int
}

func headerIndex(header []string) columns {
	cols := columns{-1, -1, -1, -1, -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case contains(studentIDHeaders, h):
			cols.studentID = i
		case contains(firstNameHeaders, h):
			cols.firstName = i
		case contains(middleNameHeaders, h):
			cols.middleName = i
		case contains(lastNameHeaders, h):
			cols.lastName = i
		case contains(programHeaders, h):
			cols.program = i
		}
	}
	return cols
}

func parse(records [][]string) ([]roster.NewEntry, error) {
	if len(records) < 2 {
		return nil, ErrNoData
	}
	cols := headerIndex(records[0])
	if cols.studentID < 0 || cols.firstName < 0 || cols.lastName < 0 {
		return nil, ErrBadHeader
	}

	cell := func(row []string, idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	entries := make([]roster.NewEntry, 0, len(records)-1)
	for _, row := range records[1:] {
		ne := roster.NewEntry{
			StudentID:  cell(row, cols.studentID),
			FirstName:  cell(row, cols.firstName),
			MiddleName: cell(row, cols.middleName),
			LastName:   cell(row, cols.lastName),
			Program:    cell(row, cols.program),
		}
		if ne == (roster.NewEntry{}) {
			continue // blank line
		}
		entries = append(entries, ne)
	}

	switch {
	case len(entries) == 0:
		return nil, ErrNoData
	case len(entries) > MaxRows:
		return nil, ErrTooManyRows
	}
	return entries, nil
}

// WriteXLSX writes entries as a single sheet workbook.
func WriteXLSX(w io.Writer, entries []roster.Entry) error {
	f := excelize.NewFile()
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return errors.Wrap(err, "writing header")
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetRowStyle(exportSheet, 1, 1, style)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "addressing row")
		}
		row := []interface{}{e.StudentID, e.FirstName, e.MiddleName, e.LastName, e.Program, e.VerifiedEmail}
		if err = f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return errors.Wrapf(err, "writing %s", e.StudentID)
		}
	}
	return errors.Wrap(f.Write(w), "writing workbook")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
