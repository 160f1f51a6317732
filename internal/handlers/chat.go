package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"infomary-backend/internal/models"
)

const maxRecordingBytes = 25 * 1024 * 1024

type chatService interface {
	StartChat(ctx context.Context, req models.StartSessionRequest) (*models.StartSessionResponse, error)
	HandleMessage(ctx context.Context, sessionID, message string) (*models.ChatResponse, error)
	UpdateSettings(ctx context.Context, sessionID string, req models.UpdateSettingsRequest) (*models.SettingsResponse, error)
	Resume(ctx context.Context, sessionID string) (*models.ResumeResponse, error)
	Transcript(ctx context.Context, sessionID string) (*models.TranscriptResponse, error)
	Rounds(ctx context.Context, sessionID string) (*models.RoundsResponse, error)
	EndChat(ctx context.Context, sessionID string) error
	Transcribe(ctx context.Context, sessionID, filename string, audio io.Reader) (*models.TranscribeResponse, error)
}

type ChatHandler struct {
	chat chatService
}

func NewChatHandler(chat chatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
			return
		}
	}

	resp, err := h.chat.StartChat(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	resp, err := h.chat.HandleMessage(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	resp, err := h.chat.UpdateSettings(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) Resume(w http.ResponseWriter, r *http.Request) {
	resp, err := h.chat.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	resp, err := h.chat.Transcript(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) Rounds(w http.ResponseWriter, r *http.Request) {
	resp, err := h.chat.Rounds(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Transcribe accepts a recorded clip in the multipart field "audio".
func (h *ChatHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRecordingBytes)

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No audio provided", r))
		return
	}
	defer file.Close()

	resp, err := h.chat.Transcribe(r.Context(), chi.URLParam(r, "id"), header.Filename, file)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) End(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.EndChat(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
