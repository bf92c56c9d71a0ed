package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/hivedesk/membership-backend/internal/types"
)

// The partner file is a fixed 21-column layout: identity and address fields,
// hive count, a constant membership-fee flag, three mutually exclusive
// publication flags, three mutually exclusive insurance-tier flags and one
// legal-assistance flag. A short header region precedes the rows.
const exportColumnCount = 21

var exportPublicationOrder = []string{"newsletter", "magazine", "combined"}
var exportTierOrder = []string{"liability", "standard", "extended"}

type exportFileHeader struct {
	ExportDate    time.Time
	PaymentMethod string
	FirstOfYear   bool
}

func buildExportFile(header exportFileHeader, items []ExportItem) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	firstOfYear := "0"
	if header.FirstOfYear {
		firstOfYear = "1"
	}
	headerRows := [][]string{
		{"EXPORT_DATE", header.ExportDate.Format("2006-01-02")},
		{"PAYMENT_METHOD", header.PaymentMethod},
		{"FIRST_OF_YEAR", firstOfYear},
	}
	for _, row := range headerRows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write export header: %w", err)
		}
	}

	for _, item := range items {
		row, err := exportRow(item)
		if err != nil {
			return nil, err
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write export row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush export file: %w", err)
	}
	return buf.Bytes(), nil
}

func exportRow(item ExportItem) ([]string, error) {
	sub := item.Subscription
	if sub == nil || sub.Member == nil {
		return nil, fmt.Errorf("export item without subscription or member")
	}
	member := sub.Member

	// A subscription row carries the live option set; a modification row
	// carries only the fields that entry changed.
	opts := sub.Options
	hiveCount := sub.HiveCount
	if item.Modification != nil {
		opts = types.Options{
			InsuranceTier:   item.Modification.NewInsuranceTier,
			Publication:     item.Modification.NewPublication,
			LegalAssistance: item.Modification.AddLegalAssistance,
		}
	}

	row := make([]string, 0, exportColumnCount)
	row = append(row,
		member.LastName,
		member.FirstName,
		member.Street,
		"", // reserved
		member.Complement,
		member.PostalCode,
		member.City,
		member.Country,
		member.Email,
		member.Phone,
		member.Mobile,
		member.TaxID,
		strconv.Itoa(hiveCount),
		"1", // membership fee flag
	)
	for _, pub := range exportPublicationOrder {
		row = append(row, flag(opts.Publication == pub))
	}
	for _, tier := range exportTierOrder {
		row = append(row, flag(opts.InsuranceTier == tier))
	}
	row = append(row, flag(opts.LegalAssistance))

	if len(row) != exportColumnCount {
		return nil, fmt.Errorf("export row has %d columns, want %d", len(row), exportColumnCount)
	}
	return row, nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
