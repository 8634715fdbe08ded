package reporting

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	ledgerSheet  = "Expenses"
)

var ledgerHeader = []string{"Date", "Description", "Category", "Amount (UGX)", "Recorded By"}

// ExportXLSX renders the report as a two-sheet workbook: the summary
// figures and the expense ledger.
func ExportXLSX(rep *DailyReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(ledgerSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if err := writeSummary(f, rep, bold); err != nil {
		return nil, err
	}
	if err := writeLedger(f, rep, bold); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, rep *DailyReport, header int) error {
	rows := [][]interface{}{
		{"Daily report", rep.Date},
		{"Time zone", rep.Timezone},
		{},
		{"Activity"},
		{"Visits started", rep.VisitsStarted},
		{"Visits completed", rep.VisitsCompleted},
		{"New patients", rep.NewPatients},
		{"Prescriptions issued", rep.PrescriptionsIssued},
		{"OTC sales", rep.OTCSales},
		{},
		{"Revenue (UGX)"},
		{"Consultation", rep.Revenue.Consultation},
		{"Lab", rep.Revenue.Lab},
		{"Pharmacy", rep.Revenue.Pharmacy},
		{"Procedures", rep.Revenue.Procedures},
		{"Visit revenue", rep.VisitRevenue},
		{"OTC", rep.Revenue.OTC},
		{"Total revenue", rep.TotalRevenue},
		{},
		{"Expenses (UGX)"},
	}
	categories := make([]string, 0, len(rep.Expenses.ByCategory))
	for c := range rep.Expenses.ByCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		rows = append(rows, []interface{}{c, rep.Expenses.ByCategory[c]})
	}
	rows = append(rows,
		[]interface{}{"Total expenses", rep.Expenses.Total},
		[]interface{}{},
		[]interface{}{"Net revenue", rep.NetRevenue},
	)

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
		if len(row) == 1 {
			if err := f.SetCellStyle(summarySheet, cell, cell, header); err != nil {
				return fmt.Errorf("style summary row %d: %w", i+1, err)
			}
		}
	}
	return f.SetColWidth(summarySheet, "A", "A", 24)
}

func writeLedger(f *excelize.File, rep *DailyReport, header int) error {
	headerRow := make([]interface{}, len(ledgerHeader))
	for i, h := range ledgerHeader {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(ledgerSheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(ledgerHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(ledgerSheet, "A1", last, header); err != nil {
		return fmt.Errorf("style ledger header: %w", err)
	}

	for i, e := range rep.ExpenseLedger {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			e.Date.In(rep.From.Location()).Format("2006-01-02 15:04"),
			e.Description,
			e.Category,
			e.Amount,
			e.StaffName,
		}
		if err := f.SetSheetRow(ledgerSheet, cell, &row); err != nil {
			return fmt.Errorf("write ledger row %d: %w", i+2, err)
		}
	}
	return f.SetColWidth(ledgerSheet, "A", "E", 20)
}
