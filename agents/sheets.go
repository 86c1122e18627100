package agents

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"gsuited/server"
)

// Sheets serves spreadsheet operations backed by the Sheets v4 API.
type Sheets struct {
	base
}

// NewSheets constructs the sheets agent.
func NewSheets(app *server.App, opts ...option.ClientOption) *Sheets {
	return &Sheets{base: newBase(app, "sheets", opts)}
}

// Routes lays out the spreadsheet endpoints.
func (s *Sheets) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{spreadsheetID}/cell/update", s.handleUpdateCell)
	r.Post("/{spreadsheetID}/rows/append", s.handleAppendRows)
	r.Post("/{spreadsheetID}/rows/delete", s.handleDeleteRows)
	r.Post("/{spreadsheetID}/tabs/create", s.handleCreateTab)
	r.Post("/{spreadsheetID}/values/clear", s.handleClearValues)
	r.Get("/{spreadsheetID}/metadata", s.handleMetadata)
	r.Post("/{spreadsheetID}/deduplicate", s.handleDeduplicate)
	return r
}

func (s *Sheets) service(w http.ResponseWriter, r *http.Request) (*sheets.Service, bool) {
	ts, ok := s.tokenSource(w, r)
	if !ok {
		return nil, false
	}
	svc, err := sheets.NewService(r.Context(), s.clientOptions(ts)...)
	if err != nil {
		s.logger.Error("build sheets service", "error", err)
		respondError(w, http.StatusInternalServerError, "server_error", "failed to build Sheets client")
		return nil, false
	}
	return svc, true
}

type updateCellRequest struct {
	CellRange        string `json:"cell_range"`
	NewValue         string `json:"new_value"`
	ValueInputOption string `json:"value_input_option"`
}

func (s *Sheets) handleUpdateCell(w http.ResponseWriter, r *http.Request) {
	spreadsheetID := chi.URLParam(r, "spreadsheetID")

	var req updateCellRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CellRange == "" || req.NewValue == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'cell_range' or 'new_value'")
		return
	}
	if req.ValueInputOption == "" {
		req.ValueInputOption = "USER_ENTERED"
	}

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	body := &sheets.ValueRange{Values: [][]any{{req.NewValue}}}
	result, err := svc.Spreadsheets.Values.Update(spreadsheetID, req.CellRange, body).
		ValueInputOption(req.ValueInputOption).
		Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "cell/update", err)
		return
	}

	respondOK(w, map[string]any{"message": "Cell updated successfully.", "details": result})
}

type appendRowsRequest struct {
	RangeName        string  `json:"range_name"`
	ValuesData       [][]any `json:"values_data"`
	ValueInputOption string  `json:"value_input_option"`
}

func (s *Sheets) handleAppendRows(w http.ResponseWriter, r *http.Request) {
	spreadsheetID := chi.URLParam(r, "spreadsheetID")

	var req appendRowsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RangeName == "" || len(req.ValuesData) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'range_name' or 'values_data'")
		return
	}
	if req.ValueInputOption == "" {
		req.ValueInputOption = "USER_ENTERED"
	}

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	body := &sheets.ValueRange{Values: req.ValuesData}
	result, err := svc.Spreadsheets.Values.Append(spreadsheetID, req.RangeName, body).
		ValueInputOption(req.ValueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "rows/append", err)
		return
	}

	respondOK(w, map[string]any{"message": "Rows appended successfully.", "details": result.Updates})
}

type deleteRowsRequest struct {
	SheetID       *int64 `json:"sheet_id"`
	StartRowIndex *int64 `json:"start_row_index"`
	EndRowIndex   *int64 `json:"end_row_index"`
}

func (s *Sheets) handleDeleteRows(w http.ResponseWriter, r *http.Request) {
	spreadsheetID := chi.URLParam(r, "spreadsheetID")

	var req deleteRowsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SheetID == nil || req.StartRowIndex == nil || req.EndRowIndex == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'sheet_id', 'start_row_index', or 'end_row_index'")
		return
	}
	if *req.StartRowIndex < 0 || *req.EndRowIndex <= *req.StartRowIndex {
		respondError(w, http.StatusBadRequest, "invalid_request", "ensure start_row_index < end_row_index and both >= 0")
		return
	}

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	batch := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    *req.SheetID,
					Dimension:  "ROWS",
					StartIndex: *req.StartRowIndex,
					EndIndex:   *req.EndRowIndex,
				},
			},
		}},
	}
	result, err := svc.Spreadsheets.BatchUpdate(spreadsheetID, batch).Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "rows/delete", err)
		return
	}

	respondOK(w, map[string]any{"message": "Row deletion request processed.", "details": result})
}

type createTabRequest struct {
	NewSheetTitle string `json:"new_sheet_title"`
}

func (s *Sheets) handleCreateTab(w http.ResponseWriter, r *http.Request) {
	spreadsheetID := chi.URLParam(r, "spreadsheetID")

	var req createTabRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NewSheetTitle == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'new_sheet_title'")
		return
	}

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	batch := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: req.NewSheetTitle},
			},
		}},
	}
	result, err := svc.Spreadsheets.BatchUpdate(spreadsheetID, batch).Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "tabs/create", err)
		return
	}

	var props *sheets.SheetProperties
	if len(result.Replies) > 0 && result.Replies[0].AddSheet != nil {
		props = result.Replies[0].AddSheet.Properties
	}
	respondOK(w, map[string]any{"message": "New tab/sheet created successfully.", "new_sheet_properties": props})
}

type clearValuesRequest struct {
	RangeName string `json:"range_name"`
}

func (s *Sheets) handleClearValues(w http.ResponseWriter, r *http.Request) {
	spreadsheetID := chi.URLParam(r, "spreadsheetID")

	var req clearValuesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RangeName == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'range_name'")
		return
	}

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	result, err := svc.Spreadsheets.Values.Clear(spreadsheetID, req.RangeName, &sheets.ClearValuesRequest{}).
		Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "values/clear", err)
		return
	}

	respondOK(w, map[string]any{"message": "Values cleared successfully.", "details": result})
}

func (s *Sheets) handleMetadata(w http.ResponseWriter, r *http.Request) {
	spreadsheetID := chi.URLParam(r, "spreadsheetID")

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	meta, err := svc.Spreadsheets.Get(spreadsheetID).
		Fields("properties", "sheets.properties").
		Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "metadata", err)
		return
	}

	respondOK(w, map[string]any{"metadata": meta})
}

type deduplicateRequest struct {
	SheetName  string `json:"sheet_name"`
	SheetID    *int64 `json:"sheet_id"`
	KeyColumns []int  `json:"key_columns"`
	HeaderRows *int   `json:"header_rows"`
	Keep       string `json:"keep"`
}

// handleDeduplicate reads the whole sheet, finds rows whose key columns
// repeat, and deletes the duplicates bottom-up so earlier indices stay
// valid while the batch applies.
func (s *Sheets) handleDeduplicate(w http.ResponseWriter, r *http.Request) {
	spreadsheetID := chi.URLParam(r, "spreadsheetID")

	var req deduplicateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SheetName == "" && req.SheetID == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'sheet_name' or 'sheet_id'")
		return
	}
	if len(req.KeyColumns) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "'key_columns' cannot be empty")
		return
	}
	for _, idx := range req.KeyColumns {
		if idx < 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "'key_columns' must be non-negative 0-based column indices")
			return
		}
	}
	keep := strings.ToLower(req.Keep)
	if keep == "" {
		keep = "first"
	}
	if keep != "first" && keep != "last" {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid 'keep' option, must be 'first' or 'last'")
		return
	}
	headerRows := 1
	if req.HeaderRows != nil {
		headerRows = *req.HeaderRows
	}
	// Negative values mean no header; every row is data.
	if headerRows < 0 {
		headerRows = 0
	}

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	meta, err := svc.Spreadsheets.Get(spreadsheetID).
		Fields("properties", "sheets.properties").
		Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "deduplicate", err)
		return
	}

	var sheetID int64
	var sheetTitle string
	found := false
	for _, sh := range meta.Sheets {
		if sh.Properties == nil {
			continue
		}
		if req.SheetID != nil && sh.Properties.SheetId == *req.SheetID {
			sheetID, sheetTitle, found = sh.Properties.SheetId, sh.Properties.Title, true
			break
		}
		if req.SheetID == nil && sh.Properties.Title == req.SheetName {
			sheetID, sheetTitle, found = sh.Properties.SheetId, sh.Properties.Title, true
			break
		}
	}
	if !found {
		respondError(w, http.StatusNotFound, "not_found", "sheet not found in spreadsheet")
		return
	}

	values, err := svc.Spreadsheets.Values.Get(spreadsheetID, fmt.Sprintf("'%s'!A:ZZ", sheetTitle)).
		Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "deduplicate", err)
		return
	}
	rows := values.Values
	if len(rows) == 0 {
		respondOK(w, map[string]any{"message": "Sheet is empty, no duplicates to remove.", "rows_deleted_count": 0})
		return
	}

	seen := make(map[string]int)
	var toDelete []int
	for i := headerRows; i < len(rows); i++ {
		key := rowKey(rows[i], req.KeyColumns)
		prev, dup := seen[key]
		switch {
		case !dup:
			seen[key] = i
		case keep == "first":
			toDelete = append(toDelete, i)
		default:
			toDelete = append(toDelete, prev)
			seen[key] = i
		}
	}
	if len(toDelete) == 0 {
		respondOK(w, map[string]any{"message": "No duplicate rows found.", "rows_deleted_count": 0})
		return
	}

	sort.Sort(sort.Reverse(sort.IntSlice(toDelete)))
	reqs := make([]*sheets.Request, 0, len(toDelete))
	for _, idx := range toDelete {
		reqs = append(reqs, &sheets.Request{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(idx),
					EndIndex:   int64(idx + 1),
				},
			},
		})
	}
	_, err = svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: reqs}).
		Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "deduplicate", err)
		return
	}

	respondOK(w, map[string]any{
		"message":                     fmt.Sprintf("Deduplication complete. %d row(s) removed.", len(toDelete)),
		"rows_deleted_count":          len(toDelete),
		"deleted_row_indices_0_based": toDelete,
	})
}

// rowKey joins the key-column cells with an unlikely separator; missing
// trailing cells count as empty, matching how the API omits them.
func rowKey(row []any, keyColumns []int) string {
	parts := make([]string, 0, len(keyColumns))
	for _, idx := range keyColumns {
		if idx < len(row) {
			parts = append(parts, fmt.Sprint(row[idx]))
		} else {
			parts = append(parts, "")
		}
	}
	return strings.Join(parts, "\x1f")
}
