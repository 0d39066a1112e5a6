package reports

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const excelSheet = "Sheet1"

const ExcelContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// WriteExcel writes rows as a two column Key/Value workbook.
func WriteExcel(w io.Writer, valueHeading string, rows []ReportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetCellValue(excelSheet, "A1", "Key"); err != nil {
		return err
	}
	if err := f.SetCellValue(excelSheet, "B1", valueHeading); err != nil {
		return err
	}
	for i, r := range rows {
		if err := f.SetCellValue(excelSheet, "A"+fmt.Sprint(i+2), r.Key); err != nil {
			return err
		}
		// numeric cell holding the exact decimal text
		if err := f.SetCellDefault(excelSheet, "B"+fmt.Sprint(i+2), r.Value.String()); err != nil {
			return err
		}
	}
	return f.Write(w)
}
