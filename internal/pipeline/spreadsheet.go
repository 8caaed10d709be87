package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/doc-analyzer/internal/logger"
)

// SpreadsheetGuidanceText is returned when a workbook cannot be read.
const SpreadsheetGuidanceText = `The spreadsheet could not be read.
The workbook may be corrupted, password-protected or saved in an unsupported format.
Export the sheet that holds the transactions as CSV (UTF-8) and upload it again,
or enter the transactions manually.`

// ExtractSpreadsheet renders every sheet of an XLSX or XLS workbook as text,
// one line per row with cells joined by ", ". A workbook that cannot be read
// yields the guidance text.
func ExtractSpreadsheet(ctx context.Context, data []byte, mimeType string) (ExtractedText, []Diagnostic) {
	log := logger.FromContext(ctx)

	var (
		sheets []sheetRows
		err    error
	)
	if mimeType == MIMETypeXLS {
		sheets, err = readXLS(data)
	} else {
		sheets, err = readXLSX(data)
	}
	if err != nil {
		log.Warn().Err(err).Str("mime_type", mimeType).Msg("Spreadsheet unreadable, returning guidance")
		return ExtractedText{Text: SpreadsheetGuidanceText, IsGuidanceOnly: true}, []Diagnostic{{
			Stage:   "spreadsheet",
			Kind:    "parse_error",
			Message: err.Error(),
		}}
	}

	var b strings.Builder
	for _, sheet := range sheets {
		fmt.Fprintf(&b, "[sheet %s]\n", sheet.name)
		for _, row := range sheet.rows {
			line := strings.Join(row, ", ")
			if strings.TrimSpace(strings.ReplaceAll(line, ",", "")) == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	log.Info().Int("sheets", len(sheets)).Msg("Spreadsheet text extracted")
	return ExtractedText{Text: b.String(), PageCount: len(sheets)}, nil
}

type sheetRows struct {
	name string
	rows [][]string
}

func readXLSX(data []byte) ([]sheetRows, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("readXLSX: open: %w", err)
	}
	defer f.Close()

	var sheets []sheetRows
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("readXLSX: rows of %q: %w", name, err)
		}
		sheets = append(sheets, sheetRows{name: name, rows: rows})
	}
	return sheets, nil
}

func readXLS(data []byte) (sheets []sheetRows, err error) {
	// The xls reader panics on some malformed workbooks.
	defer func() {
		if r := recover(); r != nil {
			sheets = nil
			err = fmt.Errorf("readXLS: reader panicked: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("readXLS: open: %w", err)
	}

	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		var rows [][]string
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				continue
			}
			var cells []string
			for c := row.FirstCol(); c < row.LastCol(); c++ {
				cells = append(cells, strings.TrimSpace(row.Col(c)))
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, sheetRows{name: sheet.Name, rows: rows})
	}
	return sheets, nil
}
