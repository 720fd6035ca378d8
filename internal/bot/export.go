package bot

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/staffdesk/medbook/internal/domain"
)

const exportSheet = "Сотрудники"

var exportHeader = []interface{}{"ФИО", "Дата рождения", "Телефон", "Статус", "Медкнижка до", "Telegram ID"}

// buildExportXLSX renders the staff list as a single-sheet workbook.
func buildExportXLSX(recs []domain.StaffRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, r := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []interface{}{
			r.FullName,
			domain.FormatDisplayDate(r.BirthDate),
			r.Phone,
			statusLabel(r.MedbookStatus),
			domain.FormatDisplayDate(r.MedbookExpiry),
			r.TelegramID,
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetCellStyle(exportSheet, "A1", "F1", headerStyle); err != nil {
		return nil, fmt.Errorf("apply header style: %w", err)
	}
	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}
	if err := f.SetColWidth(exportSheet, "A", "A", 36); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(exportSheet, "B", "F", 16); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
