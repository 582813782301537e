package handlers

import (
	"net/http"
	"strconv"

	"github.com/academic-manager/wa-service/internal/services"
	"github.com/gorilla/mux"
)

const defaultMessageLimit = 50

type MessageHandler struct {
	messages *services.MessageService
}

func NewMessageHandler(messages *services.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// GetMessages handles GET /api/messages/{chatID}?limit=
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatID"]

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := h.messages.FetchRecent(r.Context(), chatID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"chat_id":  chatID,
		"count":    len(msgs),
		"messages": msgs,
	})
}
