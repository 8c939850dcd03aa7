package report

import (
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/sweep"
)

// Sheet names of the workbook.
const (
	SheetSummary  = "Summary"
	SheetProducts = "Products"
)

var productHeader = []string{
	"Product ID", "Name", "Status", "Method", "Confidence", "Evidence Grade",
	"Written", "Dropped", "Task Severity", "Task Created", "Error",
}

// WriteXLSX renders the summary as a two-sheet workbook.
func WriteXLSX(w io.Writer, s *sweep.Summary) error {
	f := xlsx.NewFile()

	sum, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "xlsx: add summary sheet")
	}
	addStrings(sum, "Run ID", s.RunID)
	addStrings(sum, "Organization", s.OrganizationID)
	addStrings(sum, "Status", s.Status)
	addStrings(sum, "Started", s.StartedAt.Format("2006-01-02 15:04:05Z07:00"))
	addInt(sum, "Duration (ms)", int(s.DurationMs))
	addInt(sum, "Products seen", s.ProductsSeen)
	addInt(sum, "Skipped (complete)", s.ProductsSkipped)
	addInt(sum, "Resolved", s.ProductsResolved)
	addInt(sum, "Unresolved", s.ProductsUnresolved)
	addInt(sum, "Failed", s.ProductsFailed)
	addInt(sum, "Deferred", s.ProductsDeferred)
	addInt(sum, "Values written", s.ValuesWritten)
	addInt(sum, "Values skipped (verified)", s.ValuesSkippedVerified)
	addInt(sum, "Values kept (stored)", s.ValuesKeptExisting)
	addInt(sum, "Values dropped", s.ValuesDropped)
	addInt(sum, "Tasks created", s.TasksCreated)

	methods := make([]string, 0, len(s.ByMethod))
	for m := range s.ByMethod {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		addInt(sum, "Method: "+m, s.ByMethod[m])
	}

	products, err := f.AddSheet(SheetProducts)
	if err != nil {
		return eris.Wrap(err, "xlsx: add products sheet")
	}
	addStrings(products, productHeader...)
	for _, p := range s.Products {
		row := products.AddRow()
		row.AddCell().SetString(p.ProductID)
		row.AddCell().SetString(p.Name)
		row.AddCell().SetString(p.Status)
		row.AddCell().SetString(p.Method)
		row.AddCell().SetFloat(p.Confidence)
		row.AddCell().SetString(string(p.EvidenceGrade))
		row.AddCell().SetInt(p.Written)
		row.AddCell().SetString(droppedKeys(p))
		row.AddCell().SetString(string(p.TaskSeverity))
		row.AddCell().SetBool(p.TaskCreated)
		row.AddCell().SetString(p.Error)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}

// ReadSheet returns the rows of a sheet in a workbook on disk.
func ReadSheet(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, ok := f.Sheet[sheetName]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", sheetName)
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

func addStrings(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addInt(sheet *xlsx.Sheet, label string, v int) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetInt(v)
}

func droppedKeys(p sweep.ProductResult) string {
	keys := make([]string, 0, len(p.Dropped))
	for _, d := range p.Dropped {
		keys = append(keys, d.Key)
	}
	return strings.Join(keys, ", ")
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
