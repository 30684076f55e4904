package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pixvault/internal/auth"
	"pixvault/internal/domain"
	"pixvault/internal/service"
)

// Лимит чтения multipart-формы чуть выше лимита сервиса, чтобы
// слишком большой файл отбрасывался осмысленной ошибкой, а не обрывом
const maxUploadMemory = 21 * 1024 * 1024

type PictureHandler struct {
	pictures *service.PictureService
}

func NewPictureHandler(pictures *service.PictureService) *PictureHandler {
	return &PictureHandler{pictures: pictures}
}

// Upload принимает multipart-форму с полем file и необязательными
// space_id, picture_id, name
func (h *PictureHandler) Upload(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, domain.ErrParams("invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, domain.ErrParams("file field is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, domain.ErrParams("failed to read file: %v", err))
		return
	}

	input := service.UploadInput{
		Data:     data,
		Filename: header.Filename,
		Name:     r.FormValue("name"),
	}

	if v := r.FormValue("space_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, domain.ErrParams("invalid space_id"))
			return
		}
		input.SpaceID = &id
	}
	if v := r.FormValue("picture_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, domain.ErrParams("invalid picture_id"))
			return
		}
		input.PictureID = &id
	}

	pic, err := h.pictures.Upload(r.Context(), identity, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, pic)
}

func (h *PictureHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domain.ErrParams("invalid picture id"))
		return
	}

	if err := h.pictures.Delete(r.Context(), identity, id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (h *PictureHandler) Edit(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domain.ErrParams("invalid picture id"))
		return
	}

	var input service.EditInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, domain.ErrParams("invalid request body"))
		return
	}

	pic, err := h.pictures.Edit(r.Context(), identity, id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, pic)
}

func (h *PictureHandler) Review(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domain.ErrParams("invalid picture id"))
		return
	}

	var input service.ReviewInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, domain.ErrParams("invalid request body"))
		return
	}

	if err := h.pictures.Review(r.Context(), identity, id, input); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (h *PictureHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domain.ErrParams("invalid picture id"))
		return
	}

	pic, err := h.pictures.GetByID(r.Context(), identity, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, pic)
}

// pictureQueryRequest — разрешенные клиенту параметры постраничного
// запроса. Поля видимости (статус модерации, null-пространство)
// клиенту недоступны, их выставляет сервис.
type pictureQueryRequest struct {
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	SpaceID    *uuid.UUID `json:"space_id,omitempty"`
	Format     string     `json:"format,omitempty"`
	SearchText string     `json:"search_text,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	SortField  string     `json:"sort_field,omitempty"`
	SortAsc    bool       `json:"sort_asc,omitempty"`
}

func (q pictureQueryRequest) toQuery() domain.PictureQuery {
	return domain.PictureQuery{
		Page:       q.Page,
		PageSize:   q.PageSize,
		SpaceID:    q.SpaceID,
		Format:     q.Format,
		SearchText: q.SearchText,
		Tags:       q.Tags,
		SortField:  q.SortField,
		SortAsc:    q.SortAsc,
	}
}

func (h *PictureHandler) ListPage(w http.ResponseWriter, r *http.Request) {
	h.listPage(w, r, false)
}

func (h *PictureHandler) ListPageCached(w http.ResponseWriter, r *http.Request) {
	h.listPage(w, r, true)
}

func (h *PictureHandler) listPage(w http.ResponseWriter, r *http.Request, cached bool) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req pictureQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrParams("invalid request body"))
		return
	}

	var page *domain.PicturePage
	if cached {
		page, err = h.pictures.ListPageCached(r.Context(), identity, req.toQuery())
	} else {
		page, err = h.pictures.ListPage(r.Context(), identity, req.toQuery())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, page)
}

// RefreshCache — принудительный сброс кеша списков (администратор)
func (h *PictureHandler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := h.pictures.RefreshCache(r.Context(), identity); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}
