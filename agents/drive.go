package agents

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"gsuited/server"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"

	maxUploadBytes = 64 << 20
)

// exportFormats maps Google Workspace native types to the Office format
// they download as, since native files have no binary content of their own.
var exportFormats = map[string]struct {
	mimeType  string
	extension string
}{
	"application/vnd.google-apps.document": {
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".docx",
	},
	"application/vnd.google-apps.spreadsheet": {
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx",
	},
	"application/vnd.google-apps.presentation": {
		"application/vnd.openxmlformats-officedocument.presentationml.presentation", ".pptx",
	},
}

// Drive serves file and folder operations backed by the Drive v3 API.
type Drive struct {
	base
}

// NewDrive constructs the drive agent.
func NewDrive(app *server.App, opts ...option.ClientOption) *Drive {
	return &Drive{base: newBase(app, "drive", opts)}
}

// Routes lays out the drive endpoints.
func (d *Drive) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/folder/create", d.handleCreateFolder)
	r.Get("/folder/list", d.handleListFolder)
	r.Post("/file/upload", d.handleUploadFile)
	r.Get("/file/{fileID}/download", d.handleDownloadFile)
	r.Get("/file/{fileID}/metadata", d.handleFileMetadata)
	return r
}

func (d *Drive) service(w http.ResponseWriter, r *http.Request) (*drive.Service, bool) {
	ts, ok := d.tokenSource(w, r)
	if !ok {
		return nil, false
	}
	svc, err := drive.NewService(r.Context(), d.clientOptions(ts)...)
	if err != nil {
		d.logger.Error("build drive service", "error", err)
		respondError(w, http.StatusInternalServerError, "server_error", "failed to build Drive client")
		return nil, false
	}
	return svc, true
}

type createFolderRequest struct {
	FolderName     string `json:"folder_name"`
	ParentFolderID string `json:"parent_folder_id"`
}

func (d *Drive) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FolderName == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing 'folder_name'")
		return
	}

	svc, ok := d.service(w, r)
	if !ok {
		return
	}

	meta := &drive.File{Name: req.FolderName, MimeType: folderMimeType}
	if req.ParentFolderID != "" {
		meta.Parents = []string{req.ParentFolderID}
	}

	folder, err := svc.Files.Create(meta).
		Fields("id", "name", "webViewLink").
		Context(r.Context()).Do()
	if err != nil {
		d.apiError(w, "folder/create", err)
		return
	}

	respondOK(w, map[string]any{"message": "Folder created successfully.", "folder": folder})
}

func (d *Drive) handleListFolder(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folder_id")
	if folderID == "" {
		folderID = "root"
	}
	pageSize := int64(100)
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "'page_size' must be a positive integer")
			return
		}
		pageSize = n
	}

	svc, ok := d.service(w, r)
	if !ok {
		return
	}

	result, err := svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", folderID)).
		PageSize(pageSize).
		Fields("nextPageToken", "files(id, name, mimeType, webViewLink, createdTime, modifiedTime, size, iconLink, parents)").
		Context(r.Context()).Do()
	if err != nil {
		d.apiError(w, "folder/list", err)
		return
	}

	respondOK(w, map[string]any{
		"folder_id":       folderID,
		"items":           result.Files,
		"count":           len(result.Files),
		"next_page_token": result.NextPageToken,
	})
}

// handleUploadFile accepts a multipart form with the file part plus optional
// file_name, mime_type, and folder_id fields, and streams it to Drive.
func (d *Drive) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "expected multipart form with a 'file' part")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "no file part in the request")
		return
	}
	defer file.Close()

	fileName := r.FormValue("file_name")
	if fileName == "" {
		fileName = header.Filename
	}
	if fileName == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "no file name supplied")
		return
	}
	mimeType := r.FormValue("mime_type")
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}

	svc, ok := d.service(w, r)
	if !ok {
		return
	}

	meta := &drive.File{Name: fileName}
	if folderID := r.FormValue("folder_id"); folderID != "" {
		meta.Parents = []string{folderID}
	}

	call := svc.Files.Create(meta).Fields("id", "name", "webViewLink").Context(r.Context())
	if mimeType != "" {
		call = call.Media(file, googleapi.ContentType(mimeType))
	} else {
		call = call.Media(file)
	}

	uploaded, err := call.Do()
	if err != nil {
		d.apiError(w, "file/upload", err)
		return
	}

	respondOK(w, map[string]any{"message": "File uploaded successfully.", "file_info": uploaded})
}

// handleDownloadFile streams the file body back to the caller. Google
// Workspace native files are exported to their Office equivalent first.
func (d *Drive) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	svc, ok := d.service(w, r)
	if !ok {
		return
	}

	meta, err := svc.Files.Get(fileID).
		Fields("id", "name", "mimeType").
		Context(r.Context()).Do()
	if err != nil {
		d.apiError(w, "file/download", err)
		return
	}

	fileName := meta.Name
	contentType := meta.MimeType

	var resp *http.Response
	if export, native := exportFormats[meta.MimeType]; native {
		if !strings.HasSuffix(strings.ToLower(fileName), export.extension) {
			fileName += export.extension
		}
		contentType = export.mimeType
		resp, err = svc.Files.Export(fileID, export.mimeType).Context(r.Context()).Download()
	} else {
		resp, err = svc.Files.Get(fileID).Context(r.Context()).Download()
	}
	if err != nil {
		d.apiError(w, "file/download", err)
		return
	}
	defer resp.Body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	if _, err := io.Copy(w, resp.Body); err != nil {
		d.logger.Error("stream download", "file_id", fileID, "error", err)
	}
}

func (d *Drive) handleFileMetadata(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	svc, ok := d.service(w, r)
	if !ok {
		return
	}

	meta, err := svc.Files.Get(fileID).
		Fields("id", "name", "mimeType", "webViewLink", "createdTime", "modifiedTime", "parents", "size", "iconLink", "shared", "owners").
		Context(r.Context()).Do()
	if err != nil {
		d.apiError(w, "file/metadata", err)
		return
	}

	respondOK(w, map[string]any{"metadata": meta})
}
