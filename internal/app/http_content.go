package app

import (
	"net/http"
	"strconv"
	"strings"

	"ecocropshare/api/internal/store"
)

func (s *HTTPServer) handlePosts(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		q := r.URL.Query()
		posts, err := s.service.ListPosts(r.Context(), store.PostFilter{
			Type:         strings.TrimSpace(q.Get("type")),
			ExchangeType: strings.TrimSpace(q.Get("exchangeType")),
			Status:       strings.TrimSpace(q.Get("status")),
			UserID:       strings.TrimSpace(q.Get("userId")),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"posts": posts})

	case len(parts) == 1 && r.Method == http.MethodPost:
		var body PostInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		post, err := s.service.CreatePost(r.Context(), sess, body)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"post": post})

	case len(parts) == 2:
		id := parts[1]
		switch r.Method {
		case http.MethodGet:
			post, err := s.service.GetPost(r.Context(), id)
			if err != nil {
				respondError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{"post": post})
		case http.MethodPut:
			var body PostInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
				return
			}
			post, err := s.service.UpdatePost(r.Context(), sess, id, body)
			if err != nil {
				respondError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{"post": post})
		case http.MethodDelete:
			if err := s.service.DeletePost(r.Context(), sess, id); err != nil {
				respondError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{"message": "Post deleted"})
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 3 && parts[2] == "fulfill" && r.Method == http.MethodPost:
		var body FulfillInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		result, err := s.service.FulfillPost(r.Context(), sess, parts[1], body)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"post": result.Post, "history": result.History})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleRequests(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		q := r.URL.Query()
		requests, err := s.service.ListRequests(r.Context(), store.RequestFilter{
			Status:   strings.TrimSpace(q.Get("status")),
			Category: strings.TrimSpace(q.Get("category")),
			UserID:   strings.TrimSpace(q.Get("userId")),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"requests": requests})

	case len(parts) == 1 && r.Method == http.MethodPost:
		var body RequestInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		request, err := s.service.CreateRequest(r.Context(), sess, body)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"request": request})

	case len(parts) == 2:
		id := parts[1]
		switch r.Method {
		case http.MethodGet:
			request, err := s.service.GetRequest(r.Context(), id)
			if err != nil {
				respondError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{"request": request})
		case http.MethodPut:
			var body RequestInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
				return
			}
			request, err := s.service.UpdateRequest(r.Context(), sess, id, body)
			if err != nil {
				respondError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{"request": request})
		case http.MethodDelete:
			if err := s.service.DeleteRequest(r.Context(), sess, id); err != nil {
				respondError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{"message": "Request deleted"})
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 3 && parts[2] == "fulfill" && r.Method == http.MethodPost:
		var body FulfillInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		result, err := s.service.FulfillRequest(r.Context(), sess, parts[1], body)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"request": result.Request, "history": result.History})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		q := r.URL.Query()
		comments, err := s.service.ListComments(r.Context(), strings.TrimSpace(q.Get("parentType")), strings.TrimSpace(q.Get("parentId")))
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"comments": comments})

	case len(parts) == 1 && r.Method == http.MethodPost:
		var body CommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		comment, err := s.service.CreateComment(r.Context(), sess, body)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"comment": comment})

	case len(parts) == 2 && r.Method == http.MethodDelete:
		if err := s.service.DeleteComment(r.Context(), sess, parts[1]); err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"message": "Comment deleted"})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleArticles(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		q := r.URL.Query()
		articles, err := s.service.ListArticles(r.Context(), store.ArticleFilter{
			Category: strings.TrimSpace(q.Get("category")),
			Tag:      strings.TrimSpace(q.Get("tag")),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"articles": articles})

	case len(parts) == 1 && r.Method == http.MethodPost:
		var body ArticleInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		article, err := s.service.CreateArticle(r.Context(), sess, body)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"article": article})

	case len(parts) == 2:
		id := parts[1]
		switch r.Method {
		case http.MethodGet:
			article, err := s.service.GetArticle(r.Context(), id)
			if err != nil {
				respondError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{"article": article})
		case http.MethodPut:
			var body ArticleInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
				return
			}
			article, err := s.service.UpdateArticle(r.Context(), sess, id, body)
			if err != nil {
				respondError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{"article": article})
		case http.MethodDelete:
			if err := s.service.DeleteArticle(r.Context(), sess, id); err != nil {
				respondError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{"message": "Article deleted"})
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 3 && parts[2] == "related" && r.Method == http.MethodGet:
		articles, err := s.service.RelatedArticles(r.Context(), parts[1])
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"articles": articles})

	case len(parts) == 3 && parts[2] == "revisions" && r.Method == http.MethodGet:
		revisions, err := s.service.ArticleRevisions(r.Context(), parts[1])
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"revisions": revisions})

	case len(parts) == 4 && parts[2] == "revisions" && r.Method == http.MethodGet:
		content, revision, err := s.service.ArticleRevision(r.Context(), parts[1], parts[3])
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"revision": revision, "content": content})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
		return
	}
	q := r.URL.Query()
	offset := 0
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "offset must be an integer")
			return
		}
		offset = parsed
	}
	response, err := s.service.Search(r.Context(), SearchInput{
		Text:     q.Get("q"),
		Type:     strings.TrimSpace(q.Get("type")),
		OpenOnly: q.Get("open") == "true",
		Offset:   offset,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
	})
}
