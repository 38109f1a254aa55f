package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

const (
	SheetObjects      = "Objects"
	SheetVisits       = "Visits"
	SheetInstallation = "Installation"
	SheetSMS          = "SMS"
)

var (
	objectsHeader      = []string{"ID", "Name", "Address", "Type", "Contact", "Phone", "Visits", "Photos"}
	objectsWidths      = []float64{38, 30, 40, 14, 24, 18, 10, 10}
	visitsHeader       = []string{"Object", "Date", "Type", "Comment", "Author", "Role", "Photos", "Task", "Recipient", "Completed By", "Completed At", "Created At"}
	visitsWidths       = []float64{30, 12, 12, 50, 24, 14, 10, 40, 14, 24, 22, 22}
	installationHeader = []string{"Object", "Day", "Date", "Comment", "Author", "Photos"}
	installationWidths = []float64{30, 8, 12, 50, 24, 10}
	smsHeader          = []string{"Object", "Task Date", "Phone", "Status", "Message ID", "Cost", "Error"}
	smsWidths          = []float64{30, 12, 18, 10, 24, 10, 30}
)

type sheetSpec struct {
	name   string
	header []string
	widths []float64
	rows   [][]any
}

// BuildReport 导出全部未删除对象的到场记录（xlsx）
func BuildReport(objects []domain.SiteObject, now time.Time) ([]byte, error) {
	sheets := []sheetSpec{
		{name: SheetObjects, header: objectsHeader, widths: objectsWidths},
		{name: SheetVisits, header: visitsHeader, widths: visitsWidths},
		{name: SheetInstallation, header: installationHeader, widths: installationWidths},
		{name: SheetSMS, header: smsHeader, widths: smsWidths},
	}

	for _, o := range objects {
		if o.Deleted {
			continue
		}
		visits := domain.History(&o)
		objType := o.ObjectType
		if objType == "" {
			objType = domain.ObjectRegular
		}
		sheets[0].rows = append(sheets[0].rows, []any{
			o.ID, o.Name, o.Address, string(objType), o.ContactName, o.ContactPhone, len(visits), domain.CountPhotos(&o),
		})
		for i := len(visits) - 1; i >= 0; i-- {
			v := visits[i]
			sheets[1].rows = append(sheets[1].rows, []any{
				o.Name, v.Date, visitTypeLabel(v), v.Comment, v.CreatedBy, string(v.CreatedByRole), len(v.Photos),
				v.TaskDescription, string(v.TaskRecipient), v.TaskCompletedBy, v.TaskCompletedAt, v.CreatedAt,
			})
			for _, n := range v.SmsNotifications {
				sheets[3].rows = append(sheets[3].rows, []any{
					o.Name, v.Date, n.Phone, string(n.Status), string(n.MessageID), n.Cost, n.Error,
				})
			}
		}
		for _, d := range o.InstallationDays {
			sheets[2].rows = append(sheets[2].rows, []any{o.Name, d.DayNumber, d.Date, d.Comment, d.CreatedBy, len(d.Photos)})
		}
	}

	f := excelize.NewFile()
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for _, s := range sheets {
		if err := writeSheet(f, s, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	if idx, err := f.GetSheetIndex(SheetObjects); err == nil {
		f.SetActiveSheet(idx)
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Visit report",
		Created: now.UTC().Format(time.RFC3339),
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set doc props: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, s sheetSpec, headerStyle int) error {
	if _, err := f.NewSheet(s.name); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", s.name, err)
	}
	if err := f.SetSheetRow(s.name, "A1", &s.header); err != nil {
		return fmt.Errorf("failed to write header of %s: %w", s.name, err)
	}
	last, err := excelize.CoordinatesToCellName(len(s.header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(s.name, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	for i, w := range s.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(s.name, col, col, w); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	// 冻结表头
	if err := f.SetPanes(s.name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	for i, row := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(s.name, cell, &r); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+2, s.name, err)
		}
	}
	return nil
}

func visitTypeLabel(v domain.Visit) string {
	return domain.Badge(&v)
}
