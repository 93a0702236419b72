package app

import (
	"context"
	"strings"

	"ecocropshare/api/internal/email"
	"ecocropshare/api/internal/export"
	"ecocropshare/api/internal/log"
	"ecocropshare/api/internal/ownership"
	"ecocropshare/api/internal/ref"
	"ecocropshare/api/internal/store"
	"ecocropshare/api/internal/util"
)

// FulfillInput is the body of POST /history and of the per-listing fulfill
// routes. Ids may arrive as strings or as populated objects.
type FulfillInput struct {
	Type      string `json:"type"`
	PostID    any    `json:"postId"`
	RequestID any    `json:"requestId"`
	PartnerID any    `json:"partnerId"`
	PlantName string `json:"plantName"`
	Notes     string `json:"notes"`
}

// Exchange is the outcome of a fulfillment. Exactly one of Post and Request
// is set.
type Exchange struct {
	Post    *store.Post    `json:"post,omitempty"`
	Request *store.Request `json:"request,omitempty"`
	History store.History  `json:"history"`
}

func (s *Service) FulfillPost(ctx context.Context, sess Session, postID string, in FulfillInput) (Exchange, error) {
	in.Type = store.HistoryPost
	in.PostID = postID
	in.RequestID = nil
	return s.RecordExchange(ctx, sess, in)
}

func (s *Service) FulfillRequest(ctx context.Context, sess Session, requestID string, in FulfillInput) (Exchange, error) {
	in.Type = store.HistoryRequest
	in.RequestID = requestID
	in.PostID = nil
	return s.RecordExchange(ctx, sess, in)
}

// RecordExchange closes a post or request and writes its history row. The
// status flip and the insert share one transaction in the store, so a second
// fulfillment of the same listing fails with a conflict.
func (s *Service) RecordExchange(ctx context.Context, sess Session, in FulfillInput) (Exchange, error) {
	postID := ref.ExtractID(in.PostID)
	requestID := ref.ExtractID(in.RequestID)
	partnerID := ref.ExtractID(in.PartnerID)

	switch in.Type {
	case store.HistoryPost:
		if postID == "" || requestID != "" {
			return Exchange{}, validationError("type post requires postId and no requestId")
		}
	case store.HistoryRequest:
		if requestID == "" || postID != "" {
			return Exchange{}, validationError("type request requires requestId and no postId")
		}
	default:
		return Exchange{}, validationError("type must be post or request")
	}
	if partnerID == "" {
		return Exchange{}, validationError("partnerId is required")
	}
	if ref.Same(sess.UserID, partnerID) {
		return Exchange{}, validationError("You cannot exchange with yourself")
	}
	partner, err := s.store.GetUserByID(ctx, partnerID)
	if err != nil {
		return Exchange{}, err
	}

	entry := store.History{
		ID:        util.NewID("hst"),
		UserID:    ref.New(sess.UserID),
		PartnerID: ref.New(partnerID),
		PlantName: strings.TrimSpace(in.PlantName),
		Notes:     strings.TrimSpace(in.Notes),
	}

	var result Exchange
	if in.Type == store.HistoryPost {
		post, err := s.store.GetPost(ctx, postID)
		if err != nil {
			return Exchange{}, err
		}
		if !ownership.Can(sess.UserID, post.UserID, ownership.ActionFulfill) {
			return Exchange{}, forbidden("Only the owner can fulfill this post")
		}
		if post.Status != store.PostAvailable {
			return Exchange{}, conflict("Post is already completed")
		}
		updated, history, err := s.store.FulfillPost(ctx, postID, entry)
		if err != nil {
			return Exchange{}, err
		}
		s.indexPost(updated)
		result = Exchange{Post: &updated, History: history}
	} else {
		request, err := s.store.GetRequest(ctx, requestID)
		if err != nil {
			return Exchange{}, err
		}
		if !ownership.Can(sess.UserID, request.UserID, ownership.ActionFulfill) {
			return Exchange{}, forbidden("Only the owner can fulfill this request")
		}
		if request.Status != store.RequestOpen {
			return Exchange{}, conflict("Request is already fulfilled")
		}
		updated, history, err := s.store.FulfillRequest(ctx, requestID, entry)
		if err != nil {
			return Exchange{}, err
		}
		s.indexRequest(updated)
		result = Exchange{Request: &updated, History: history}
	}

	s.notifyPartner(partner, sess, result.History)
	return result, nil
}

func (s *Service) notifyPartner(partner store.User, sess Session, history store.History) {
	if s.mailer == nil || !s.mailer.IsConfigured() || partner.Email == "" {
		return
	}
	data := email.ExchangeData{
		PartnerName: partner.Name,
		OwnerName:   sess.UserName,
		PlantName:   history.PlantName,
		Kind:        history.Type,
		Date:        history.Date,
		HistoryURL:  strings.TrimRight(s.cfg.PublicURL, "/") + "/history/" + history.ID,
	}
	s.notify(func() {
		if err := s.mailer.SendExchangeCompletedEmail(partner.Email, data); err != nil {
			log.Log.WithError(err).WithField("history_id", history.ID).Warn("exchange email failed")
		}
	})
}

type HistoryQuery struct {
	Type string
	Role string
}

func (s *Service) ListHistory(ctx context.Context, sess Session, q HistoryQuery) ([]store.History, error) {
	if q.Type != "" && q.Type != store.HistoryPost && q.Type != store.HistoryRequest {
		return nil, validationError("type must be post or request")
	}
	role, ok := ownership.NormalizeRole(q.Role)
	if !ok {
		return nil, validationError("role must be giver or receiver")
	}
	return s.store.ListHistory(ctx, store.HistoryFilter{
		CallerID: sess.UserID,
		Type:     q.Type,
		Role:     string(role),
	})
}

func (s *Service) GetHistory(ctx context.Context, sess Session, id string) (store.History, error) {
	history, err := s.store.GetHistory(ctx, id)
	if err != nil {
		return store.History{}, err
	}
	if !ownership.IsParticipant(sess.UserID, history.UserID, history.PartnerID) {
		return store.History{}, forbidden("You are not part of this exchange")
	}
	return history, nil
}

// ExportHistory renders every exchange the caller took part in.
func (s *Service) ExportHistory(ctx context.Context, sess Session, format string) (*export.Result, error) {
	parsed, ok := export.ParseFormat(format)
	if !ok {
		return nil, validationError("format must be pdf or docx")
	}
	if s.exporter == nil {
		return nil, unavailable("EXPORT_UNAVAILABLE", "History export is not configured")
	}
	items, err := s.store.ListHistory(ctx, store.HistoryFilter{CallerID: sess.UserID})
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		OwnerName: sess.UserName,
		Format:    parsed,
		Entries:   exportEntries(sess.UserID, items),
	})
}

func exportEntries(callerID string, items []store.History) []export.Entry {
	entries := make([]export.Entry, 0, len(items))
	for _, item := range items {
		role := ownership.RoleIn(callerID, item.UserID, item.PartnerID)
		counterpart := item.PartnerID
		if role == ownership.RoleReceiver {
			counterpart = item.UserID
		}
		entry := export.Entry{
			Date:      item.Date,
			PlantName: item.PlantName,
			Kind:      item.Type,
			Role:      string(role),
			Notes:     item.Notes,
		}
		if summary, ok := counterpart.Summary(); ok {
			entry.Counterpart = summary.Name
			entry.Location = summary.Location
		} else {
			entry.Counterpart = counterpart.ID()
		}
		entries = append(entries, entry)
	}
	return entries
}
