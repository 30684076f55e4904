package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pixvault/internal/auth"
	"pixvault/internal/domain"
	"pixvault/internal/service"
)

type SpaceHandler struct {
	spaces *service.SpaceService
	quota  *service.QuotaService
}

func NewSpaceHandler(spaces *service.SpaceService, quota *service.QuotaService) *SpaceHandler {
	return &SpaceHandler{spaces: spaces, quota: quota}
}

func (h *SpaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var input service.CreateSpaceInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, domain.ErrParams("invalid request body"))
		return
	}

	space, err := h.spaces.Create(r.Context(), identity, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, space)
}

// Update — административное изменение пространства (уровень, лимиты)
func (h *SpaceHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domain.ErrParams("invalid space id"))
		return
	}

	var input service.UpdateSpaceInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, domain.ErrParams("invalid request body"))
		return
	}

	space, err := h.spaces.Update(r.Context(), identity, id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, space)
}

// Edit — переименование пространства владельцем
func (h *SpaceHandler) Edit(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domain.ErrParams("invalid space id"))
		return
	}

	var input struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, domain.ErrParams("invalid request body"))
		return
	}

	space, err := h.spaces.Edit(r.Context(), identity, id, input.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, space)
}

func (h *SpaceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domain.ErrParams("invalid space id"))
		return
	}

	if err := h.spaces.Delete(r.Context(), identity, id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (h *SpaceHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domain.ErrParams("invalid space id"))
		return
	}

	space, err := h.spaces.GetByID(r.Context(), identity, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, space)
}

// GetOwn — пространство самого вызывающего, без указания id
func (h *SpaceHandler) GetOwn(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	space, err := h.spaces.GetOwn(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, space)
}

func (h *SpaceHandler) Levels(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.spaces.Levels())
}

// QuotaInfo — текущее заполнение квоты пространства. Доступ тот же,
// что и к самому пространству
func (h *SpaceHandler) QuotaInfo(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.FromRequest(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domain.ErrParams("invalid space id"))
		return
	}

	// Проверка доступа через чтение пространства
	if _, err := h.spaces.GetByID(r.Context(), identity, id); err != nil {
		writeError(w, err)
		return
	}

	info, err := h.quota.Info(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, info)
}
