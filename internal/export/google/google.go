// Package google writes month summaries to a Google Sheets spreadsheet
// using service account credentials.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"envelope/internal/core"
	"envelope/internal/export"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

var _ export.SummaryWriter = (*Client)(nil)

// NewClient creates a Sheets client for the given spreadsheet and sheet.
// Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS.
func NewClient(ctx context.Context, spreadsheetID, sheetName string) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Budget"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account
// credentials.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// WriteMonthSummary replaces the month's block of rows in the sheet, or
// appends one when the month has not been exported yet. Column A keys
// each row by month ("2006-01").
func (c *Client) WriteMonthSummary(ctx context.Context, s export.Summary) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	monthKey := s.Month.String()
	values := summaryValues(s)

	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read sheet %s: %w", c.sheetName, err)
	}

	first, last := monthBlock(resp.Values, monthKey)
	if first > 0 {
		clearRange := fmt.Sprintf("%s!A%d:F%d", c.sheetName, first, last)
		_, err = c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).
			Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("clear rows for %s: %w", monthKey, err)
		}
		if last-first+1 >= len(values) {
			updateRange := fmt.Sprintf("%s!A%d:F%d", c.sheetName, first, first+len(values)-1)
			_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, updateRange,
				&gsheet.ValueRange{Values: values}).
				ValueInputOption("USER_ENTERED").Context(ctx).Do()
			if err != nil {
				return fmt.Errorf("update rows for %s: %w", monthKey, err)
			}
			slog.DebugContext(ctx, "Rewrote month summary in place",
				"month", monthKey, "rows", len(values))
			return nil
		}
		// The block grew; fall through and append at the end.
	}

	appendRange := fmt.Sprintf("%s!A:F", c.sheetName)
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, appendRange,
		&gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append rows for %s: %w", monthKey, err)
	}
	slog.DebugContext(ctx, "Appended month summary",
		"month", monthKey, "rows", len(values))
	return nil
}

// summaryValues renders the sheet rows: one Ready to Assign line, then
// one line per category. Amounts are major units so the sheet can sum
// them.
func summaryValues(s export.Summary) [][]any {
	monthKey := s.Month.String()
	values := [][]any{
		{monthKey, "Ready to Assign", "", "", "", major(s.ReadyToAssign)},
	}
	for _, row := range s.Rows {
		values = append(values, []any{
			monthKey, row.Name,
			major(row.Allocated), major(row.Inflow),
			major(row.Activity), major(row.Available),
		})
	}
	return values
}

// monthBlock locates the contiguous 1-based row range keyed by monthKey
// in column A. Returns (0, 0) when absent.
func monthBlock(colA [][]any, monthKey string) (first, last int) {
	for i, row := range colA {
		if len(row) == 0 {
			continue
		}
		cell, _ := row[0].(string)
		if cell != monthKey {
			continue
		}
		if first == 0 {
			first = i + 1
		}
		last = i + 1
	}
	return first, last
}

func major(minor int64) string {
	return core.FormatMinor(minor)
}
