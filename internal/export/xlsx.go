// Package export writes execution results to spreadsheets.
package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/formflow/internal/model"
)

// Sheet names in a results workbook.
const (
	SheetResults    = "Results"
	SheetProvenance = "Provenance"
	SheetUnits      = "Units"
)

// WriteXLSX writes one row per result to path. Columns follow the form's
// field order; fields a result carries that the form does not declare are
// appended in name order.
func WriteXLSX(path string, form model.Form, results []*model.ExecutionResult) error {
	f := xlsx.NewFile()
	columns := fieldColumns(form, results)

	resultsSheet, err := f.AddSheet(SheetResults)
	if err != nil {
		return eris.Wrap(err, "export: add results sheet")
	}
	addStringRow(resultsSheet, append([]string{"document_id", "task_name", "status", "degraded"}, columns...)...)
	for _, r := range results {
		row := resultsSheet.AddRow()
		row.AddCell().SetString(r.DocumentID)
		row.AddCell().SetString(r.TaskName)
		row.AddCell().SetString(string(r.Status))
		row.AddCell().SetBool(r.Degraded)
		for _, name := range columns {
			v, ok := r.Fields[name]
			if !ok {
				row.AddCell().SetString("")
				continue
			}
			setValue(row.AddCell(), v.Value)
		}
	}

	provSheet, err := f.AddSheet(SheetProvenance)
	if err != nil {
		return eris.Wrap(err, "export: add provenance sheet")
	}
	addStringRow(provSheet, "document_id", "field", "value", "provenance")
	for _, r := range results {
		for _, name := range columns {
			v, ok := r.Fields[name]
			if !ok || v.Provenance == "" {
				continue
			}
			addStringRow(provSheet, r.DocumentID, name, formatValue(v.Value), v.Provenance)
		}
	}

	unitSheet, err := f.AddSheet(SheetUnits)
	if err != nil {
		return eris.Wrap(err, "export: add units sheet")
	}
	addStringRow(unitSheet, "document_id", "unit", "stage", "status", "duration_ms", "cost_usd", "error")
	for _, r := range results {
		for _, u := range r.Units {
			row := unitSheet.AddRow()
			row.AddCell().SetString(r.DocumentID)
			row.AddCell().SetString(u.Unit)
			row.AddCell().SetInt(u.Stage)
			row.AddCell().SetString(string(u.Status))
			row.AddCell().SetInt64(u.DurationMs)
			row.AddCell().SetFloat(u.Usage.Cost)
			row.AddCell().SetString(u.Error)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// ReadSheet returns every row of the named sheet as strings.
func ReadSheet(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: open %s", path)
	}
	sheet, ok := f.Sheet[sheetName]
	if !ok {
		return nil, eris.Errorf("export: sheet %q not found", sheetName)
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func fieldColumns(form model.Form, results []*model.ExecutionResult) []string {
	columns := form.FieldNames()
	known := form.FieldSet()
	var extra []string
	for _, r := range results {
		for name := range r.Fields {
			if !known[name] {
				known[name] = true
				extra = append(extra, name)
			}
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}

func addStringRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func setValue(cell *xlsx.Cell, v any) {
	switch x := v.(type) {
	case float64:
		cell.SetFloat(x)
	case int:
		cell.SetInt(x)
	case int64:
		cell.SetInt64(x)
	case bool:
		cell.SetBool(x)
	default:
		cell.SetString(formatValue(v))
	}
}

// formatValue renders a field value as display text. Lists and objects are
// written as JSON.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case int, int64:
		return fmt.Sprint(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
