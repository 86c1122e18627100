package agents

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/api/option"
	"google.golang.org/api/slides/v1"

	"gsuited/server"
)

// Slides serves presentation operations backed by the Slides v1 API.
type Slides struct {
	base
}

// NewSlides constructs the slides agent.
func NewSlides(app *server.App, opts ...option.ClientOption) *Slides {
	return &Slides{base: newBase(app, "slides", opts)}
}

// Routes lays out the presentation endpoints.
func (s *Slides) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/create", s.handleCreate)
	r.Get("/{presentationID}/read", s.handleRead)
	r.Post("/{presentationID}/slide/create", s.handleCreateSlide)
	r.Post("/{presentationID}/element/{elementID}/text/insert", s.handleInsertText)
	r.Post("/{presentationID}/element/{elementID}/text/delete", s.handleDeleteText)
	r.Post("/{presentationID}/element/{elementID}/text/style", s.handleTextStyle)
	r.Post("/{presentationID}/page/{pageID}/background", s.handlePageBackground)
	r.Post("/{presentationID}/page/{pageID}/image/add", s.handleAddImage)
	return r
}

func (s *Slides) service(w http.ResponseWriter, r *http.Request) (*slides.Service, bool) {
	ts, ok := s.tokenSource(w, r)
	if !ok {
		return nil, false
	}
	svc, err := slides.NewService(r.Context(), s.clientOptions(ts)...)
	if err != nil {
		s.logger.Error("build slides service", "error", err)
		respondError(w, http.StatusInternalServerError, "server_error", "failed to build Slides client")
		return nil, false
	}
	return svc, true
}

func (s *Slides) batchUpdate(w http.ResponseWriter, r *http.Request, endpoint string, reqs []*slides.Request) (*slides.BatchUpdatePresentationResponse, bool) {
	svc, ok := s.service(w, r)
	if !ok {
		return nil, false
	}
	presentationID := chi.URLParam(r, "presentationID")
	result, err := svc.Presentations.BatchUpdate(presentationID, &slides.BatchUpdatePresentationRequest{Requests: reqs}).
		Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, endpoint, err)
		return nil, false
	}
	return result, true
}

type createPresentationRequest struct {
	Title string `json:"title"`
}

func (s *Slides) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPresentationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'title'")
		return
	}

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	pres, err := svc.Presentations.Create(&slides.Presentation{Title: req.Title}).Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "create", err)
		return
	}

	respondOK(w, map[string]any{
		"message":         "Presentation created successfully.",
		"presentation_id": pres.PresentationId,
		"title":           pres.Title,
	})
}

func (s *Slides) handleRead(w http.ResponseWriter, r *http.Request) {
	presentationID := chi.URLParam(r, "presentationID")

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	pres, err := svc.Presentations.Get(presentationID).Context(r.Context()).Do()
	if err != nil {
		s.apiError(w, "read", err)
		return
	}

	respondOK(w, map[string]any{"presentation": pres})
}

type createSlideRequest struct {
	Layout string `json:"layout"`
	Index  *int64 `json:"index"`
}

func (s *Slides) handleCreateSlide(w http.ResponseWriter, r *http.Request) {
	var req createSlideRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Layout == "" {
		req.Layout = "BLANK"
	}

	create := &slides.CreateSlideRequest{
		SlideLayoutReference: &slides.LayoutReference{PredefinedLayout: req.Layout},
	}
	if req.Index != nil {
		create.InsertionIndex = *req.Index
		create.ForceSendFields = []string{"InsertionIndex"}
	}

	result, ok := s.batchUpdate(w, r, "slide/create", []*slides.Request{{CreateSlide: create}})
	if !ok {
		return
	}

	var slideID string
	if len(result.Replies) > 0 && result.Replies[0].CreateSlide != nil {
		slideID = result.Replies[0].CreateSlide.ObjectId
	}
	respondOK(w, map[string]any{"message": "Slide created successfully.", "slide_object_id": slideID})
}

type slideInsertTextRequest struct {
	Text           string `json:"text"`
	InsertionIndex int64  `json:"insertion_index"`
}

func (s *Slides) handleInsertText(w http.ResponseWriter, r *http.Request) {
	elementID := chi.URLParam(r, "elementID")

	var req slideInsertTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'text'")
		return
	}

	insert := &slides.InsertTextRequest{
		ObjectId:        elementID,
		Text:            req.Text,
		InsertionIndex:  req.InsertionIndex,
		ForceSendFields: []string{"InsertionIndex"},
	}

	result, ok := s.batchUpdate(w, r, "text/insert", []*slides.Request{{InsertText: insert}})
	if !ok {
		return
	}
	respondOK(w, map[string]any{"message": "Text inserted successfully.", "details": result})
}

type slideDeleteTextRequest struct {
	StartIndex *int64 `json:"start_index"`
	EndIndex   *int64 `json:"end_index"`
}

func (s *Slides) handleDeleteText(w http.ResponseWriter, r *http.Request) {
	elementID := chi.URLParam(r, "elementID")

	var req slideDeleteTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StartIndex == nil || req.EndIndex == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'start_index' or 'end_index'")
		return
	}

	del := &slides.DeleteTextRequest{
		ObjectId: elementID,
		TextRange: &slides.Range{
			Type:       "FIXED_RANGE",
			StartIndex: req.StartIndex,
			EndIndex:   req.EndIndex,
		},
	}

	result, ok := s.batchUpdate(w, r, "text/delete", []*slides.Request{{DeleteText: del}})
	if !ok {
		return
	}
	respondOK(w, map[string]any{"message": "Text deleted successfully.", "details": result})
}

type rgbColor struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
}

func (c rgbColor) toAPI() *slides.RgbColor {
	return &slides.RgbColor{
		Red:             c.Red,
		Green:           c.Green,
		Blue:            c.Blue,
		ForceSendFields: []string{"Red", "Green", "Blue"},
	}
}

type slideTextStyleRequest struct {
	StartIndex *int64    `json:"start_index"`
	EndIndex   *int64    `json:"end_index"`
	ColorRGB   *rgbColor `json:"color_rgb"`
	Bold       *bool     `json:"bold"`
	Italic     *bool     `json:"italic"`
	FontFamily string    `json:"font_family"`
	FontSizePt float64   `json:"font_size_pt"`
}

func (s *Slides) handleTextStyle(w http.ResponseWriter, r *http.Request) {
	elementID := chi.URLParam(r, "elementID")

	var req slideTextStyleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StartIndex == nil || req.EndIndex == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'start_index' or 'end_index'")
		return
	}

	style := &slides.TextStyle{}
	var fields []string
	if req.ColorRGB != nil {
		style.ForegroundColor = &slides.OptionalColor{
			OpaqueColor: &slides.OpaqueColor{RgbColor: req.ColorRGB.toAPI()},
		}
		fields = append(fields, "foregroundColor")
	}
	if req.Bold != nil {
		style.Bold = *req.Bold
		fields = append(fields, "bold")
	}
	if req.Italic != nil {
		style.Italic = *req.Italic
		fields = append(fields, "italic")
	}
	if req.FontFamily != "" {
		style.FontFamily = req.FontFamily
		fields = append(fields, "fontFamily")
	}
	if req.FontSizePt > 0 {
		style.FontSize = &slides.Dimension{Magnitude: req.FontSizePt, Unit: "PT"}
		fields = append(fields, "fontSize")
	}
	if len(fields) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "no text style attributes provided")
		return
	}
	style.ForceSendFields = []string{"Bold", "Italic"}

	update := &slides.UpdateTextStyleRequest{
		ObjectId: elementID,
		TextRange: &slides.Range{
			Type:       "FIXED_RANGE",
			StartIndex: req.StartIndex,
			EndIndex:   req.EndIndex,
		},
		Style:  style,
		Fields: strings.Join(fields, ","),
	}

	result, ok := s.batchUpdate(w, r, "text/style", []*slides.Request{{UpdateTextStyle: update}})
	if !ok {
		return
	}
	respondOK(w, map[string]any{"message": "Text style updated successfully.", "details": result})
}

type pageBackgroundRequest struct {
	ColorRGB *rgbColor `json:"color_rgb"`
}

func (s *Slides) handlePageBackground(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")

	var req pageBackgroundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ColorRGB == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'color_rgb'")
		return
	}

	update := &slides.UpdatePagePropertiesRequest{
		ObjectId: pageID,
		PageProperties: &slides.PageProperties{
			PageBackgroundFill: &slides.PageBackgroundFill{
				SolidFill: &slides.SolidFill{
					Color: &slides.OpaqueColor{RgbColor: req.ColorRGB.toAPI()},
				},
			},
		},
		Fields: "pageBackgroundFill.solidFill.color",
	}

	result, ok := s.batchUpdate(w, r, "page/background", []*slides.Request{{UpdatePageProperties: update}})
	if !ok {
		return
	}
	respondOK(w, map[string]any{"message": "Page background updated successfully.", "details": result})
}

type addImageRequest struct {
	ImageURL string   `json:"image_url"`
	WidthPt  *float64 `json:"width_pt"`
	HeightPt *float64 `json:"height_pt"`
	XPt      *float64 `json:"x_pt"`
	YPt      *float64 `json:"y_pt"`
}

func (s *Slides) handleAddImage(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")

	var req addImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ImageURL == "" || req.WidthPt == nil || req.HeightPt == nil || req.XPt == nil || req.YPt == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing one of 'image_url', 'width_pt', 'height_pt', 'x_pt', 'y_pt'")
		return
	}

	create := &slides.CreateImageRequest{
		ObjectId: fmt.Sprintf("image_%d", time.Now().UnixMilli()),
		Url:      req.ImageURL,
		ElementProperties: &slides.PageElementProperties{
			PageObjectId: pageID,
			Size: &slides.Size{
				Width:  &slides.Dimension{Magnitude: *req.WidthPt, Unit: "PT"},
				Height: &slides.Dimension{Magnitude: *req.HeightPt, Unit: "PT"},
			},
			Transform: &slides.AffineTransform{
				ScaleX:     1,
				ScaleY:     1,
				TranslateX: *req.XPt,
				TranslateY: *req.YPt,
				Unit:       "PT",
			},
		},
	}

	result, ok := s.batchUpdate(w, r, "image/add", []*slides.Request{{CreateImage: create}})
	if !ok {
		return
	}

	respondOK(w, map[string]any{
		"message":         "Image added successfully.",
		"image_object_id": create.ObjectId,
		"details":         result,
	})
}
