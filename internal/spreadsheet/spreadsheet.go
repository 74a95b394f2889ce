// Package spreadsheet converts between vendor records and the Excel
// workbooks the accounts team works with. Import is lenient about column
// naming because the uploaded sheets come from several divisions with their
// own templates.
package spreadsheet

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/models"
)

// column is a canonical field a sheet column can map to.
type column int

const (
	colUnknown column = iota
	colSrNo
	colCompanyName
	colUsername
	colGroupName
	colDivision
	colStatus
	colEmail
	colPhoneNumber
	colOwnerEmail
	colDocuments
	colEmailSentDate
	colInvoiceNo
	colInvoiceDate
	colBillAmount
)

// headerSynonyms maps normalized header text to a canonical column.
var headerSynonyms = map[string]column{
	"s.no":            colSrNo,
	"sno":             colSrNo,
	"sr no":           colSrNo,
	"sr.no":           colSrNo,
	"serial no":       colSrNo,
	"vendor name":     colCompanyName,
	"company name":    colCompanyName,
	"company":         colCompanyName,
	"username":        colUsername,
	"users name":      colUsername,
	"user name":       colUsername,
	"group name":      colGroupName,
	"grouping":        colGroupName,
	"division":        colDivision,
	"status":          colStatus,
	"email":           colEmail,
	"email id":        colEmail,
	"phone number":    colPhoneNumber,
	"phone":           colPhoneNumber,
	"mobile":          colPhoneNumber,
	"owner email":     colOwnerEmail,
	"documents":       colDocuments,
	"email sent date": colEmailSentDate,
	"invoice no":      colInvoiceNo,
	"invoice number":  colInvoiceNo,
	"invoice date":    colInvoiceDate,
	"bill amount":     colBillAmount,
	"amount":          colBillAmount,
}

var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02-01-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// Import parses an uploaded workbook into vendor records ready for batch
// insertion. Rows without a vendor name and email are skipped rather than
// failing the whole upload.
func Import(r io.Reader) ([]*models.Company, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.NewSpreadsheetError("File is not a readable Excel workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.NewSpreadsheetError("Workbook contains no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperrors.NewSpreadsheetError("Failed to read the first sheet")
	}
	if len(rows) < 2 {
		return nil, apperrors.NewSpreadsheetError("Spreadsheet contains no data rows")
	}

	mapping := mapHeader(rows[0])
	if len(mapping) == 0 {
		return nil, apperrors.NewSpreadsheetError("No recognizable columns found in the header row")
	}

	now := time.Now()
	companies := make([]*models.Company, 0, len(rows)-1)
	for i, row := range rows[1:] {
		c := parseRow(row, mapping)
		if c.CompanyName == "" && c.Email == "" {
			continue
		}
		c.ID = newImportID(now, i)
		if c.SrNo == 0 {
			c.SrNo = len(companies) + 1
		}
		companies = append(companies, c)
	}

	if len(companies) == 0 {
		return nil, apperrors.NewSpreadsheetError("Spreadsheet contains no usable vendor rows")
	}
	return companies, nil
}

func mapHeader(header []string) map[int]column {
	mapping := map[int]column{}
	for idx, cell := range header {
		key := strings.ToLower(strings.TrimSpace(cell))
		if col, ok := headerSynonyms[key]; ok {
			mapping[idx] = col
		}
	}
	return mapping
}

func parseRow(row []string, mapping map[int]column) *models.Company {
	c := &models.Company{
		Status:      models.StatusNotShown,
		EmailStatus: models.EmailStatusPending,
		Documents:   models.StringList{},
	}
	for idx, col := range mapping {
		if idx >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[idx])
		if value == "" {
			continue
		}
		switch col {
		case colSrNo:
			if n, err := strconv.Atoi(value); err == nil {
				c.SrNo = n
			}
		case colCompanyName:
			c.CompanyName = value
		case colUsername:
			c.Username = value
		case colGroupName:
			c.GroupName = value
		case colDivision:
			c.Division = value
		case colStatus:
			c.Status = value
		case colEmail:
			c.Email = strings.ToLower(value)
		case colPhoneNumber:
			c.PhoneNumber = value
		case colOwnerEmail:
			c.OwnerEmail = strings.ToLower(value)
		case colDocuments:
			for _, doc := range strings.Split(value, ",") {
				if doc = strings.TrimSpace(doc); doc != "" {
					c.Documents = append(c.Documents, doc)
				}
			}
		case colEmailSentDate:
			c.EmailSentDate = parseDate(value)
		case colInvoiceNo:
			c.InvoiceNo = value
		case colInvoiceDate:
			c.InvoiceDate = parseDate(value)
		case colBillAmount:
			if amount, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64); err == nil {
				c.BillAmount = &amount
			}
		}
	}
	return c
}

func parseDate(value string) *time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

// newImportID produces collision-resistant ids for imported rows in one pass.
func newImportID(now time.Time, idx int) string {
	return fmt.Sprintf("comp_%d_%d_%s", now.UnixMilli(), idx, uuid.NewString()[:8])
}

// exportHeader is the fixed column order of the email status report.
var exportHeader = []string{"Company Name", "Email", "Email Status", "Email Sent Date", "Last Email Sent", "Email Error"}

const exportSheet = "Email Status"

// Export builds the email status report workbook.
func Export(companies []*models.Company) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, c := range companies {
		row := []interface{}{
			c.CompanyName,
			c.Email,
			c.EmailStatus,
			formatDate(c.EmailSentDate),
			formatDate(c.LastEmailSent),
			c.EmailError,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return f, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("02/01/2006 15:04")
}
