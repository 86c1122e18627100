package agents

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"

	"gsuited/server"
)

// Docs serves document operations backed by the Docs v1 API.
type Docs struct {
	base
}

// NewDocs constructs the docs agent.
func NewDocs(app *server.App, opts ...option.ClientOption) *Docs {
	return &Docs{base: newBase(app, "docs", opts)}
}

// Routes lays out the document endpoints.
func (d *Docs) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/create", d.handleCreate)
	r.Get("/{documentID}/read", d.handleRead)
	r.Post("/{documentID}/insert_text", d.handleInsertText)
	r.Post("/{documentID}/delete_range", d.handleDeleteRange)
	r.Post("/{documentID}/format/paragraph", d.handleFormatParagraph)
	r.Post("/{documentID}/format/text", d.handleFormatText)
	r.Post("/{documentID}/insert_table", d.handleInsertTable)
	return r
}

func (d *Docs) service(w http.ResponseWriter, r *http.Request) (*docs.Service, bool) {
	ts, ok := d.tokenSource(w, r)
	if !ok {
		return nil, false
	}
	svc, err := docs.NewService(r.Context(), d.clientOptions(ts)...)
	if err != nil {
		d.logger.Error("build docs service", "error", err)
		respondError(w, http.StatusInternalServerError, "server_error", "failed to build Docs client")
		return nil, false
	}
	return svc, true
}

func (d *Docs) batchUpdate(w http.ResponseWriter, r *http.Request, endpoint string, reqs []*docs.Request) (*docs.BatchUpdateDocumentResponse, bool) {
	svc, ok := d.service(w, r)
	if !ok {
		return nil, false
	}
	documentID := chi.URLParam(r, "documentID")
	result, err := svc.Documents.BatchUpdate(documentID, &docs.BatchUpdateDocumentRequest{Requests: reqs}).
		Context(r.Context()).Do()
	if err != nil {
		d.apiError(w, endpoint, err)
		return nil, false
	}
	return result, true
}

type createDocumentRequest struct {
	Title string `json:"title"`
}

func (d *Docs) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'title'")
		return
	}

	svc, ok := d.service(w, r)
	if !ok {
		return
	}

	doc, err := svc.Documents.Create(&docs.Document{Title: req.Title}).Context(r.Context()).Do()
	if err != nil {
		d.apiError(w, "create", err)
		return
	}

	respondOK(w, map[string]any{
		"message":     "Document created successfully.",
		"document_id": doc.DocumentId,
		"title":       doc.Title,
	})
}

func (d *Docs) handleRead(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	svc, ok := d.service(w, r)
	if !ok {
		return
	}

	doc, err := svc.Documents.Get(documentID).
		Fields("body", "title", "documentId", "documentStyle", "namedStyles", "revisionId").
		Context(r.Context()).Do()
	if err != nil {
		d.apiError(w, "read", err)
		return
	}

	respondOK(w, map[string]any{
		"document":   doc,
		"plain_text": extractPlainText(doc),
	})
}

// extractPlainText flattens the document body's paragraph runs.
func extractPlainText(doc *docs.Document) string {
	if doc.Body == nil {
		return ""
	}
	var b strings.Builder
	for _, el := range doc.Body.Content {
		if el.Paragraph == nil {
			continue
		}
		for _, pe := range el.Paragraph.Elements {
			if pe.TextRun != nil {
				b.WriteString(pe.TextRun.Content)
			}
		}
	}
	return b.String()
}

type insertTextRequest struct {
	Text          string `json:"text"`
	LocationIndex *int64 `json:"location_index"`
	SegmentID     string `json:"segment_id"`
}

func (d *Docs) handleInsertText(w http.ResponseWriter, r *http.Request) {
	var req insertTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'text'")
		return
	}

	insert := &docs.InsertTextRequest{Text: req.Text}
	if req.LocationIndex != nil {
		insert.Location = &docs.Location{Index: *req.LocationIndex, SegmentId: req.SegmentID}
	} else {
		insert.EndOfSegmentLocation = &docs.EndOfSegmentLocation{SegmentId: req.SegmentID}
	}

	result, ok := d.batchUpdate(w, r, "insert_text", []*docs.Request{{InsertText: insert}})
	if !ok {
		return
	}
	respondOK(w, map[string]any{"message": "Text inserted successfully.", "details": result})
}

type deleteRangeRequest struct {
	StartIndex *int64 `json:"start_index"`
	EndIndex   *int64 `json:"end_index"`
	SegmentID  string `json:"segment_id"`
}

func (d *Docs) handleDeleteRange(w http.ResponseWriter, r *http.Request) {
	var req deleteRangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StartIndex == nil || req.EndIndex == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'start_index' or 'end_index'")
		return
	}

	del := &docs.DeleteContentRangeRequest{
		Range: &docs.Range{
			StartIndex:      *req.StartIndex,
			EndIndex:        *req.EndIndex,
			SegmentId:       req.SegmentID,
			ForceSendFields: []string{"StartIndex"},
		},
	}

	result, ok := d.batchUpdate(w, r, "delete_range", []*docs.Request{{DeleteContentRange: del}})
	if !ok {
		return
	}
	respondOK(w, map[string]any{"message": "Content range deleted successfully.", "details": result})
}

type formatParagraphRequest struct {
	StartIndex *int64 `json:"start_index"`
	EndIndex   *int64 `json:"end_index"`
	StyleType  string `json:"style_type"`
	SegmentID  string `json:"segment_id"`
}

func (d *Docs) handleFormatParagraph(w http.ResponseWriter, r *http.Request) {
	var req formatParagraphRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StartIndex == nil || req.EndIndex == nil || req.StyleType == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'start_index', 'end_index', or 'style_type'")
		return
	}

	update := &docs.UpdateParagraphStyleRequest{
		Range: &docs.Range{
			StartIndex:      *req.StartIndex,
			EndIndex:        *req.EndIndex,
			SegmentId:       req.SegmentID,
			ForceSendFields: []string{"StartIndex"},
		},
		ParagraphStyle: &docs.ParagraphStyle{NamedStyleType: req.StyleType},
		Fields:         "namedStyleType",
	}

	result, ok := d.batchUpdate(w, r, "format/paragraph", []*docs.Request{{UpdateParagraphStyle: update}})
	if !ok {
		return
	}
	respondOK(w, map[string]any{"message": "Paragraph style updated successfully.", "details": result})
}

type formatTextRequest struct {
	StartIndex *int64 `json:"start_index"`
	EndIndex   *int64 `json:"end_index"`
	Bold       *bool  `json:"bold"`
	Italic     *bool  `json:"italic"`
	Underline  *bool  `json:"underline"`
	SegmentID  string `json:"segment_id"`
}

func (d *Docs) handleFormatText(w http.ResponseWriter, r *http.Request) {
	var req formatTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StartIndex == nil || req.EndIndex == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'start_index' or 'end_index'")
		return
	}
	if req.Bold == nil && req.Italic == nil && req.Underline == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "at least one of 'bold', 'italic', 'underline' is required")
		return
	}

	style := &docs.TextStyle{}
	var fields []string
	if req.Bold != nil {
		style.Bold = *req.Bold
		fields = append(fields, "bold")
	}
	if req.Italic != nil {
		style.Italic = *req.Italic
		fields = append(fields, "italic")
	}
	if req.Underline != nil {
		style.Underline = *req.Underline
		fields = append(fields, "underline")
	}
	// false values must still reach the wire to clear formatting
	style.ForceSendFields = []string{"Bold", "Italic", "Underline"}

	update := &docs.UpdateTextStyleRequest{
		Range: &docs.Range{
			StartIndex:      *req.StartIndex,
			EndIndex:        *req.EndIndex,
			SegmentId:       req.SegmentID,
			ForceSendFields: []string{"StartIndex"},
		},
		TextStyle: style,
		Fields:    strings.Join(fields, ","),
	}

	result, ok := d.batchUpdate(w, r, "format/text", []*docs.Request{{UpdateTextStyle: update}})
	if !ok {
		return
	}
	respondOK(w, map[string]any{"message": "Text style updated successfully.", "details": result})
}

type insertTableRequest struct {
	Rows          *int64 `json:"rows"`
	Columns       *int64 `json:"columns"`
	LocationIndex *int64 `json:"location_index"`
	SegmentID     string `json:"segment_id"`
}

func (d *Docs) handleInsertTable(w http.ResponseWriter, r *http.Request) {
	var req insertTableRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Rows == nil || req.Columns == nil || *req.Rows <= 0 || *req.Columns <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "'rows' and 'columns' must be positive integers")
		return
	}

	insert := &docs.InsertTableRequest{Rows: *req.Rows, Columns: *req.Columns}
	if req.LocationIndex != nil {
		insert.Location = &docs.Location{Index: *req.LocationIndex, SegmentId: req.SegmentID}
	} else {
		insert.EndOfSegmentLocation = &docs.EndOfSegmentLocation{SegmentId: req.SegmentID}
	}

	result, ok := d.batchUpdate(w, r, "insert_table", []*docs.Request{{InsertTable: insert}})
	if !ok {
		return
	}
	respondOK(w, map[string]any{"message": "Table inserted successfully.", "details": result})
}
