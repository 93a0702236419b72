package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ecocropshare/api/internal/config"
	"ecocropshare/api/internal/ref"
	"ecocropshare/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory dataStore and sessionStore. It keeps the same
// invariants the Postgres store enforces with constraints and transactions.
type memStore struct {
	mu            sync.Mutex
	clock         func() time.Time
	users         map[string]store.User
	resets        map[string]string
	refresh       map[string]string
	revoked       map[string]bool
	posts         map[string]store.Post
	requests      map[string]store.Request
	comments      map[string]store.Comment
	articles      map[string]store.Article
	messages      []store.Message
	conversations map[[2]string]*store.Conversation
	history       map[string]store.History
	pingErr       error
}

func newMemStore() *memStore {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick int64
	var tickMu sync.Mutex
	return &memStore{
		clock: func() time.Time {
			tickMu.Lock()
			defer tickMu.Unlock()
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
		users:         map[string]store.User{},
		resets:        map[string]string{},
		refresh:       map[string]string{},
		revoked:       map[string]bool{},
		posts:         map[string]store.Post{},
		requests:      map[string]store.Request{},
		comments:      map[string]store.Comment{},
		articles:      map[string]store.Article{},
		conversations: map[[2]string]*store.Conversation{},
		history:       map[string]store.History{},
	}
}

func newTestService(ms *memStore) *Service {
	svc := newService(config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		PublicURL:  "https://ecocropshare.test",
	}, ms, ms)
	svc.passwords.WithCost(bcrypt.MinCost)
	svc.notify = func(fn func()) { fn() }
	return svc
}

func (m *memStore) addUser(id, name string) store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := store.User{
		ID:        id,
		Name:      name,
		Email:     strings.ToLower(name) + "@example.com",
		Location:  name + "ville",
		CreatedAt: m.clock(),
	}
	m.users[id] = user
	return user
}

func (m *memStore) populated(id string) ref.Ref {
	if user, ok := m.users[id]; ok {
		return user.Ref()
	}
	return ref.New(id)
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return fmt.Errorf("insert user: %w", store.ErrConflict)
		}
	}
	user.CreatedAt = m.clock()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) UpdateUserProfile(_ context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return store.User{}, sql.ErrNoRows
	}
	user.UpdatedAt = m.clock()
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = hash
	m.users[id] = user
	return nil
}

func (m *memStore) UserSummaries(_ context.Context, ids []string) (map[string]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.User, len(ids))
	for _, id := range ids {
		if user, ok := m.users[id]; ok {
			out[id] = user
		}
	}
	return out, nil
}

func (m *memStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = userID
	return nil
}

func (m *memStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (m *memStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resets, token)
	return nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[hash] = userID
	return nil
}

func (m *memStore) ConsumeRefreshSession(_ context.Context, hash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refresh[hash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	delete(m.refresh, hash)
	return m.users[userID], nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, hash)
	return nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *memStore) Ping(context.Context) error {
	return m.pingErr
}

func (m *memStore) InsertPost(_ context.Context, item store.Post) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = m.clock()
	item.UpdatedAt = item.CreatedAt
	m.posts[item.ID] = item
	item.UserID = m.populated(item.UserID.ID())
	return item, nil
}

func (m *memStore) GetPost(_ context.Context, id string) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.posts[id]
	if !ok {
		return store.Post{}, sql.ErrNoRows
	}
	item.UserID = m.populated(item.UserID.ID())
	return item, nil
}

func (m *memStore) ListPosts(_ context.Context, filter store.PostFilter) ([]store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Post, 0)
	for _, item := range m.posts {
		if (filter.Type != "" && item.Type != filter.Type) ||
			(filter.ExchangeType != "" && item.ExchangeType != filter.ExchangeType) ||
			(filter.Status != "" && item.Status != filter.Status) ||
			(filter.UserID != "" && item.UserID.ID() != filter.UserID) {
			continue
		}
		item.UserID = m.populated(item.UserID.ID())
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) UpdatePost(_ context.Context, item store.Post) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.posts[item.ID]
	if !ok {
		return store.Post{}, sql.ErrNoRows
	}
	item.Status = current.Status
	item.UserID = current.UserID
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = m.clock()
	m.posts[item.ID] = item
	item.UserID = m.populated(item.UserID.ID())
	return item, nil
}

func (m *memStore) DeletePost(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.posts, id)
	m.dropComments(store.ParentPost, id)
	return nil
}

func (m *memStore) InsertRequest(_ context.Context, item store.Request) (store.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = m.clock()
	item.UpdatedAt = item.CreatedAt
	m.requests[item.ID] = item
	item.UserID = m.populated(item.UserID.ID())
	return item, nil
}

func (m *memStore) GetRequest(_ context.Context, id string) (store.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.requests[id]
	if !ok {
		return store.Request{}, sql.ErrNoRows
	}
	item.UserID = m.populated(item.UserID.ID())
	return item, nil
}

func (m *memStore) ListRequests(_ context.Context, filter store.RequestFilter) ([]store.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Request, 0)
	for _, item := range m.requests {
		if (filter.Status != "" && item.Status != filter.Status) ||
			(filter.Category != "" && item.Category != filter.Category) ||
			(filter.UserID != "" && item.UserID.ID() != filter.UserID) {
			continue
		}
		item.UserID = m.populated(item.UserID.ID())
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) UpdateRequest(_ context.Context, item store.Request) (store.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.requests[item.ID]
	if !ok {
		return store.Request{}, sql.ErrNoRows
	}
	item.Status = current.Status
	item.UserID = current.UserID
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = m.clock()
	m.requests[item.ID] = item
	item.UserID = m.populated(item.UserID.ID())
	return item, nil
}

func (m *memStore) DeleteRequest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.requests, id)
	m.dropComments(store.ParentRequest, id)
	return nil
}

func (m *memStore) dropComments(parentType, parentID string) {
	for id, comment := range m.comments {
		if comment.ParentType == parentType && comment.ParentID == parentID {
			delete(m.comments, id)
		}
	}
}

func (m *memStore) InsertComment(_ context.Context, item store.Comment) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var parentExists bool
	switch item.ParentType {
	case store.ParentPost:
		_, parentExists = m.posts[item.ParentID]
	case store.ParentRequest:
		_, parentExists = m.requests[item.ParentID]
	}
	if !parentExists {
		return store.Comment{}, sql.ErrNoRows
	}
	item.CreatedAt = m.clock()
	m.comments[item.ID] = item
	item.UserID = m.populated(item.UserID.ID())
	return item, nil
}

func (m *memStore) GetComment(_ context.Context, id string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.comments[id]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) ListComments(_ context.Context, parentType, parentID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Comment, 0)
	for _, item := range m.comments {
		if item.ParentType == parentType && item.ParentID == parentID {
			item.UserID = m.populated(item.UserID.ID())
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) DeleteComment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.comments, id)
	return nil
}

func (m *memStore) InsertArticle(_ context.Context, item store.Article) (store.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = m.clock()
	item.UpdatedAt = item.CreatedAt
	m.articles[item.ID] = item
	item.UserID = m.populated(item.UserID.ID())
	return item, nil
}

func (m *memStore) GetArticle(_ context.Context, id string) (store.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.articles[id]
	if !ok {
		return store.Article{}, sql.ErrNoRows
	}
	item.UserID = m.populated(item.UserID.ID())
	return item, nil
}

func (m *memStore) ListArticles(_ context.Context, filter store.ArticleFilter) ([]store.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Article, 0)
	for _, item := range m.articles {
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		if filter.Tag != "" && !containsString(item.Tags, filter.Tag) {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) RelatedArticles(_ context.Context, article store.Article, limit int) ([]store.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Article, 0)
	for _, item := range m.articles {
		if item.ID == article.ID {
			continue
		}
		shared := false
		for _, tag := range item.Tags {
			if containsString(article.Tags, tag) {
				shared = true
				break
			}
		}
		if (article.Category != "" && item.Category == article.Category) || shared {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memStore) UpdateArticle(_ context.Context, item store.Article) (store.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.articles[item.ID]
	if !ok {
		return store.Article{}, sql.ErrNoRows
	}
	item.UserID = current.UserID
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = m.clock()
	m.articles[item.ID] = item
	return item, nil
}

func (m *memStore) DeleteArticle(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.articles, id)
	return nil
}

func (m *memStore) SendMessage(_ context.Context, msg store.Message, conversationID string) (store.Message, store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.CreatedAt = m.clock()
	msg.Read = false
	m.messages = append(m.messages, msg)

	low, high := store.PairKey(msg.SenderID, msg.ReceiverID)
	key := [2]string{low, high}
	conversation, ok := m.conversations[key]
	if !ok {
		conversation = &store.Conversation{
			ID:           conversationID,
			Participants: []ref.Ref{ref.New(msg.SenderID), ref.New(msg.ReceiverID)},
			UnreadCount:  map[string]int{},
			CreatedAt:    msg.CreatedAt,
		}
		m.conversations[key] = conversation
	}
	conversation.LastMessage = msg.Content
	conversation.LastMessageDate = msg.CreatedAt
	conversation.UnreadCount[msg.ReceiverID]++
	conversation.UpdatedAt = msg.CreatedAt
	return msg, copyConversation(conversation), nil
}

func (m *memStore) ListConversations(_ context.Context, userID string) ([]store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Conversation, 0)
	for key, conversation := range m.conversations {
		if key[0] == userID || key[1] == userID {
			items = append(items, copyConversation(conversation))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].LastMessageDate.After(items[j].LastMessageDate) })
	return items, nil
}

func (m *memStore) OpenThread(_ context.Context, current, other string) ([]store.Message, *store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	low, high := store.PairKey(current, other)
	conversation, ok := m.conversations[[2]string{low, high}]
	if !ok {
		return []store.Message{}, nil, nil
	}
	m.markReadLocked(current, other)
	conversation.UnreadCount[current] = 0

	thread := make([]store.Message, 0)
	for _, msg := range m.messages {
		if (msg.SenderID == current && msg.ReceiverID == other) || (msg.SenderID == other && msg.ReceiverID == current) {
			thread = append(thread, msg)
		}
	}
	out := copyConversation(conversation)
	return thread, &out, nil
}

func (m *memStore) MarkRead(_ context.Context, current, counterpart string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	low, high := store.PairKey(current, counterpart)
	conversation, ok := m.conversations[[2]string{low, high}]
	if !ok {
		return 0, nil
	}
	updated := m.markReadLocked(current, counterpart)
	conversation.UnreadCount[current] = 0
	return updated, nil
}

func (m *memStore) markReadLocked(current, counterpart string) int64 {
	var updated int64
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.SenderID == counterpart && msg.ReceiverID == current && !msg.Read {
			msg.Read = true
			updated++
		}
	}
	return updated
}

func (m *memStore) UnreadCount(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.messages {
		if msg.ReceiverID == userID && !msg.Read {
			count++
		}
	}
	return count, nil
}

func (m *memStore) FulfillPost(_ context.Context, postID string, entry store.History) (store.Post, store.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[postID]
	if !ok {
		return store.Post{}, store.History{}, sql.ErrNoRows
	}
	if post.Status != store.PostAvailable {
		return store.Post{}, store.History{}, fmt.Errorf("posts %s already fulfilled: %w", postID, store.ErrConflict)
	}
	post.Status = store.PostCompleted
	post.UpdatedAt = m.clock()
	m.posts[postID] = post

	entry.Type = store.HistoryPost
	entry.PostID = postID
	entry.RequestID = ""
	if entry.PlantName == "" {
		entry.PlantName = post.Title
	}
	created := m.insertHistoryLocked(entry)
	post.UserID = m.populated(post.UserID.ID())
	return post, created, nil
}

func (m *memStore) FulfillRequest(_ context.Context, requestID string, entry store.History) (store.Request, store.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[requestID]
	if !ok {
		return store.Request{}, store.History{}, sql.ErrNoRows
	}
	if request.Status != store.RequestOpen {
		return store.Request{}, store.History{}, fmt.Errorf("requests %s already fulfilled: %w", requestID, store.ErrConflict)
	}
	request.Status = store.RequestFulfilled
	request.UpdatedAt = m.clock()
	m.requests[requestID] = request

	entry.Type = store.HistoryRequest
	entry.RequestID = requestID
	entry.PostID = ""
	if entry.PlantName == "" {
		entry.PlantName = request.PlantName
	}
	created := m.insertHistoryLocked(entry)
	request.UserID = m.populated(request.UserID.ID())
	return request, created, nil
}

func (m *memStore) insertHistoryLocked(entry store.History) store.History {
	entry.Date = m.clock()
	m.history[entry.ID] = entry
	entry.UserID = m.populated(entry.UserID.ID())
	entry.PartnerID = m.populated(entry.PartnerID.ID())
	return entry
}

func (m *memStore) GetHistory(_ context.Context, id string) (store.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.history[id]
	if !ok {
		return store.History{}, sql.ErrNoRows
	}
	item.UserID = m.populated(item.UserID.ID())
	item.PartnerID = m.populated(item.PartnerID.ID())
	return item, nil
}

func (m *memStore) ListHistory(_ context.Context, filter store.HistoryFilter) ([]store.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.History, 0)
	for _, item := range m.history {
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		giver := item.UserID.ID() == filter.CallerID
		receiver := item.PartnerID.ID() == filter.CallerID
		switch filter.Role {
		case "giver":
			if !giver {
				continue
			}
		case "receiver":
			if !receiver {
				continue
			}
		default:
			if !giver && !receiver {
				continue
			}
		}
		item.UserID = m.populated(item.UserID.ID())
		item.PartnerID = m.populated(item.PartnerID.ID())
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Date.After(items[j].Date) })
	return items, nil
}

func copyConversation(in *store.Conversation) store.Conversation {
	out := *in
	out.Participants = append([]ref.Ref(nil), in.Participants...)
	out.UnreadCount = make(map[string]int, len(in.UnreadCount))
	for key, value := range in.UnreadCount {
		out.UnreadCount[key] = value
	}
	return out
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
