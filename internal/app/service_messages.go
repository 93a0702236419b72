package app

import (
	"context"
	"strings"

	"ecocropshare/api/internal/ref"
	"ecocropshare/api/internal/store"
	"ecocropshare/api/internal/util"
)

// Thread is one opened conversation. Conversation is nil when the pair has
// never exchanged a message.
type Thread struct {
	Messages     []store.Message     `json:"messages"`
	Conversation *store.Conversation `json:"conversation"`
}

func (s *Service) ListConversations(ctx context.Context, sess Session) ([]store.Conversation, error) {
	conversations, err := s.store.ListConversations(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	refs := make([]*ref.Ref, 0, len(conversations)*2)
	for i := range conversations {
		for j := range conversations[i].Participants {
			refs = append(refs, &conversations[i].Participants[j])
		}
	}
	if err := s.populate(ctx, refs...); err != nil {
		return nil, err
	}
	return conversations, nil
}

type SendMessageInput struct {
	ReceiverID any    `json:"receiverId"`
	Content    string `json:"content"`
}

// SendMessage stores the message and bumps the receiver's unread counter on
// the pair's single conversation.
func (s *Service) SendMessage(ctx context.Context, sess Session, in SendMessageInput) (store.Message, store.Conversation, error) {
	content := strings.TrimSpace(in.Content)
	receiverID := ref.ExtractID(in.ReceiverID)
	if content == "" || receiverID == "" {
		return store.Message{}, store.Conversation{}, validationError("receiverId and content are required")
	}
	if ref.Same(sess.UserID, receiverID) {
		return store.Message{}, store.Conversation{}, validationError("You cannot message yourself")
	}
	if _, err := s.store.GetUserByID(ctx, receiverID); err != nil {
		return store.Message{}, store.Conversation{}, err
	}

	message, conversation, err := s.store.SendMessage(ctx, store.Message{
		ID:         util.NewID("msg"),
		SenderID:   sess.UserID,
		ReceiverID: receiverID,
		Content:    content,
	}, util.NewID("cnv"))
	if err != nil {
		return store.Message{}, store.Conversation{}, err
	}
	if err := s.populateConversation(ctx, &conversation); err != nil {
		return store.Message{}, store.Conversation{}, err
	}
	return message, conversation, nil
}

// OpenThread returns the whole thread with otherID, oldest first, and marks
// everything addressed to the caller as read.
func (s *Service) OpenThread(ctx context.Context, sess Session, otherID string) (Thread, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return Thread{}, validationError("userId is required")
	}
	messages, conversation, err := s.store.OpenThread(ctx, sess.UserID, otherID)
	if err != nil {
		return Thread{}, err
	}
	if conversation != nil {
		if err := s.populateConversation(ctx, conversation); err != nil {
			return Thread{}, err
		}
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return Thread{Messages: messages, Conversation: conversation}, nil
}

func (s *Service) MarkRead(ctx context.Context, sess Session, senderID any) (int64, error) {
	counterpart := ref.ExtractID(senderID)
	if counterpart == "" {
		return 0, validationError("senderId is required")
	}
	return s.store.MarkRead(ctx, sess.UserID, counterpart)
}

func (s *Service) UnreadCount(ctx context.Context, sess Session) (int, error) {
	return s.store.UnreadCount(ctx, sess.UserID)
}

func (s *Service) populateConversation(ctx context.Context, conversation *store.Conversation) error {
	refs := make([]*ref.Ref, len(conversation.Participants))
	for i := range conversation.Participants {
		refs[i] = &conversation.Participants[i]
	}
	return s.populate(ctx, refs...)
}
