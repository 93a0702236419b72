package app

import (
	"net/http"
	"strings"
)

func (s *HTTPServer) handleMessages(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		if other := strings.TrimSpace(r.URL.Query().Get("userId")); other != "" {
			thread, err := s.service.OpenThread(r.Context(), sess, other)
			if err != nil {
				respondError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{
				"messages":     thread.Messages,
				"conversation": thread.Conversation,
			})
			return
		}
		conversations, err := s.service.ListConversations(r.Context(), sess)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"conversations": conversations})

	case len(parts) == 1 && r.Method == http.MethodPost:
		var body SendMessageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		message, conversation, err := s.service.SendMessage(r.Context(), sess, body)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"message": message, "conversation": conversation})

	case len(parts) == 2 && parts[1] == "mark-read" && r.Method == http.MethodPost:
		var body struct {
			SenderID any `json:"senderId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		updated, err := s.service.MarkRead(r.Context(), sess, body.SenderID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"updatedCount": updated})

	case len(parts) == 2 && parts[1] == "unread-count" && r.Method == http.MethodGet:
		count, err := s.service.UnreadCount(r.Context(), sess)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"count": count})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		q := r.URL.Query()
		items, err := s.service.ListHistory(r.Context(), sess, HistoryQuery{
			Type: strings.TrimSpace(q.Get("type")),
			Role: strings.TrimSpace(q.Get("role")),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"history": items})

	case len(parts) == 1 && r.Method == http.MethodPost:
		var body FulfillInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		result, err := s.service.RecordExchange(r.Context(), sess, body)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"history": result.History})

	case len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodGet:
		result, err := s.service.ExportHistory(r.Context(), sess, strings.TrimSpace(r.URL.Query().Get("format")))
		if err != nil {
			respondError(w, r, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	case len(parts) == 2 && r.Method == http.MethodGet:
		history, err := s.service.GetHistory(r.Context(), sess, parts[1])
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"history": history})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}
