package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ecocropshare/api/internal/auth"
	"ecocropshare/api/internal/authpw"
	"ecocropshare/api/internal/config"
	"ecocropshare/api/internal/email"
	"ecocropshare/api/internal/export"
	"ecocropshare/api/internal/gitrepo"
	"ecocropshare/api/internal/log"
	"ecocropshare/api/internal/media"
	"ecocropshare/api/internal/ref"
	"ecocropshare/api/internal/search"
	"ecocropshare/api/internal/session"
	"ecocropshare/api/internal/store"
	"ecocropshare/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	UpdateUserProfile(context.Context, store.User) (store.User, error)
	UpdateUserPassword(context.Context, string, string) error
	UserSummaries(context.Context, []string) (map[string]store.User, error)
	CreatePasswordReset(context.Context, string, string, time.Time) error
	GetPasswordReset(context.Context, string) (string, error)
	MarkPasswordResetUsed(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertPost(context.Context, store.Post) (store.Post, error)
	GetPost(context.Context, string) (store.Post, error)
	ListPosts(context.Context, store.PostFilter) ([]store.Post, error)
	UpdatePost(context.Context, store.Post) (store.Post, error)
	DeletePost(context.Context, string) error
	InsertRequest(context.Context, store.Request) (store.Request, error)
	GetRequest(context.Context, string) (store.Request, error)
	ListRequests(context.Context, store.RequestFilter) ([]store.Request, error)
	UpdateRequest(context.Context, store.Request) (store.Request, error)
	DeleteRequest(context.Context, string) error
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	ListComments(context.Context, string, string) ([]store.Comment, error)
	DeleteComment(context.Context, string) error
	InsertArticle(context.Context, store.Article) (store.Article, error)
	GetArticle(context.Context, string) (store.Article, error)
	ListArticles(context.Context, store.ArticleFilter) ([]store.Article, error)
	RelatedArticles(context.Context, store.Article, int) ([]store.Article, error)
	UpdateArticle(context.Context, store.Article) (store.Article, error)
	DeleteArticle(context.Context, string) error

	SendMessage(context.Context, store.Message, string) (store.Message, store.Conversation, error)
	ListConversations(context.Context, string) ([]store.Conversation, error)
	OpenThread(context.Context, string, string) ([]store.Message, *store.Conversation, error)
	MarkRead(context.Context, string, string) (int64, error)
	UnreadCount(context.Context, string) (int, error)

	FulfillPost(context.Context, string, store.History) (store.Post, store.History, error)
	FulfillRequest(context.Context, string, store.History) (store.Request, store.History, error)
	GetHistory(context.Context, string) (store.History, error)
	ListHistory(context.Context, store.HistoryFilter) ([]store.History, error)

	Ping(ctx context.Context) error
}

// sessionStore keeps refresh tokens. Postgres implements it and Redis
// replaces it when configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	ConsumeRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexPost(search.PostRecord)
	IndexRequest(search.RequestRecord)
	IndexArticle(search.ArticleRecord)
	Remove(search.ResultType, string)
	Healthy() bool
}

type mediaHost interface {
	UploadImage(context.Context, string, io.Reader, int64) (media.Upload, error)
	RemoveByURL(context.Context, string, string) error
	Ping(context.Context) error
}

type revisionLog interface {
	Record(string, gitrepo.Content, string, string) (gitrepo.Revision, error)
	History(string, int) ([]gitrepo.Revision, error)
	Get(string, string) (gitrepo.Content, gitrepo.Revision, error)
	Remove(string) error
}

type mailer interface {
	IsConfigured() bool
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendExchangeCompletedEmail(to string, data email.ExchangeData) error
}

type historyExporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	search    searchIndex
	media     mediaHost
	revisions revisionLog
	mailer    mailer
	exporter  historyExporter
	// notify runs best-effort side work; tests replace it to run inline.
	notify func(func())
}

// New builds a service that keeps refresh sessions in Postgres.
func New(cfg config.Config, pg *store.PostgresStore) *Service {
	return newService(cfg, pg, pg)
}

// NewWithSessionStore keeps refresh sessions in Redis instead.
func NewWithSessionStore(cfg config.Config, pg *store.PostgresStore, sessions *session.RedisStore) *Service {
	return newService(cfg, pg, sessions.WithUserLookup(pg))
}

func newService(cfg config.Config, data dataStore, sessions sessionStore) *Service {
	return &Service{
		cfg:       cfg,
		store:     data,
		sessions:  sessions,
		passwords: authpw.NewService(data),
		notify:    func(fn func()) { go fn() },
	}
}

func (s *Service) WithSearch(svc *search.Service) *Service {
	if svc != nil {
		s.search = svc
	}
	return s
}

func (s *Service) WithMedia(svc *media.Service) *Service {
	if svc != nil {
		s.media = svc
	}
	return s
}

func (s *Service) WithRevisions(svc *gitrepo.Service) *Service {
	if svc != nil {
		s.revisions = svc
	}
	return s
}

func (s *Service) WithEmail(svc *email.Service) *Service {
	if svc != nil {
		s.mailer = svc
	}
	return s
}

func (s *Service) WithExporter(svc *export.Service) *Service {
	if svc != nil {
		s.exporter = svc
	}
	return s
}

func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (store.User, error) {
	return s.passwords.Register(ctx, req)
}

func (s *Service) Login(ctx context.Context, emailAddress, password string) (Session, store.User, error) {
	user, err := s.passwords.Login(ctx, emailAddress, password)
	if err != nil {
		return Session{}, store.User{}, err
	}
	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	return sess, user, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.ConsumeRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrSessionNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.Name == "" {
		if user, err = s.store.GetUserByID(ctx, user.ID); err != nil {
			return Session{}, err
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout never fails: unknown or already revoked tokens are ignored.
func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			log.Log.WithError(err).Warn("logout: revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Log.WithError(err).Warn("logout: revoke refresh token")
		}
	}
	return nil
}

// RequestPasswordReset mails a reset link. Without a configured mailer the
// token is returned instead so local setups can finish the flow.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddress string) (string, error) {
	token, user, err := s.passwords.RequestPasswordReset(ctx, emailAddress)
	if err != nil || token == "" {
		return "", err
	}
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return token, nil
	}
	resetURL := strings.TrimRight(s.cfg.PublicURL, "/") + "/reset-password?token=" + token
	if err := s.mailer.SendPasswordResetEmail(user.Email, user.Name, resetURL); err != nil {
		log.Log.WithError(err).WithField("user_id", user.ID).Warn("password reset email failed")
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.passwords.ResetPassword(ctx, token, newPassword)
}

func (s *Service) ChangePassword(ctx context.Context, sess Session, current, next string) error {
	return s.passwords.ChangePassword(ctx, sess.UserID, current, next)
}

func (s *Service) Me(ctx context.Context, sess Session) (store.User, error) {
	return s.store.GetUserByID(ctx, sess.UserID)
}

// ProfileInput is a partial profile update; nil fields are left alone.
type ProfileInput struct {
	Name           *string   `json:"name"`
	Location       *string   `json:"location"`
	FavoritePlants *[]string `json:"favoritePlants"`
	ProfileImage   *string   `json:"profileImage"`
}

func (s *Service) UpdateProfile(ctx context.Context, sess Session, in ProfileInput) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return store.User{}, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return store.User{}, validationError("name cannot be empty")
		}
		user.Name = name
	}
	if in.Location != nil {
		user.Location = strings.TrimSpace(*in.Location)
	}
	if in.FavoritePlants != nil {
		user.FavoritePlants = cleanList(*in.FavoritePlants)
	}
	previousImage := user.ProfileImage
	if in.ProfileImage != nil {
		user.ProfileImage = strings.TrimSpace(*in.ProfileImage)
	}
	updated, err := s.store.UpdateUserProfile(ctx, user)
	if err != nil {
		return store.User{}, err
	}
	if previousImage != "" && previousImage != updated.ProfileImage {
		s.removeImages(ctx, sess.UserID, previousImage)
	}
	return updated, nil
}

// PublicUser is the part of a profile other members may see.
type PublicUser struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Location       string    `json:"location"`
	ProfileImage   string    `json:"profileImage"`
	FavoritePlants []string  `json:"favoritePlants"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (s *Service) PublicProfile(ctx context.Context, userID string) (PublicUser, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return PublicUser{}, err
	}
	plants := user.FavoritePlants
	if plants == nil {
		plants = []string{}
	}
	return PublicUser{
		ID:             user.ID,
		Name:           user.Name,
		Location:       user.Location,
		ProfileImage:   user.ProfileImage,
		FavoritePlants: plants,
		CreatedAt:      user.CreatedAt,
	}, nil
}

func (s *Service) UploadImage(ctx context.Context, sess Session, body io.Reader, size int64) (media.Upload, error) {
	if s.media == nil {
		return media.Upload{}, unavailable("MEDIA_UNAVAILABLE", "Image uploads are not configured")
	}
	return s.media.UploadImage(ctx, sess.UserID, body, size)
}

// removeImages drops ownerID's hosted images that neither the owner's profile
// nor any of the owner's posts still point at. The media host refuses keys
// outside the owner's upload prefix.
func (s *Service) removeImages(ctx context.Context, ownerID string, urls ...string) {
	if s.media == nil || len(urls) == 0 {
		return
	}
	inUse, err := s.imagesInUse(ctx, ownerID)
	if err != nil {
		log.Log.WithError(err).WithField("user_id", ownerID).Warn("skip image removal")
		return
	}
	for _, url := range urls {
		if inUse[url] {
			continue
		}
		if err := s.media.RemoveByURL(ctx, ownerID, url); err != nil {
			log.Log.WithError(err).WithField("url", url).Warn("remove image")
		}
	}
}

func (s *Service) imagesInUse(ctx context.Context, ownerID string) (map[string]bool, error) {
	inUse := map[string]bool{}
	user, err := s.store.GetUserByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if user.ProfileImage != "" {
		inUse[user.ProfileImage] = true
	}
	posts, err := s.store.ListPosts(ctx, store.PostFilter{UserID: ownerID})
	if err != nil {
		return nil, err
	}
	for _, post := range posts {
		for _, image := range post.Images {
			inUse[image] = true
		}
	}
	return inUse, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness reports every collaborator. Only the database decides the
// overall result.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	checks := map[string]any{}
	ready := true

	if err := s.store.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["database"] = map[string]any{"status": "ok"}
	}

	switch {
	case s.search == nil:
		checks["search"] = map[string]any{"status": "disabled"}
	case s.search.Healthy():
		checks["search"] = map[string]any{"status": "ok"}
	default:
		checks["search"] = map[string]any{"status": "degraded"}
	}

	switch {
	case s.media == nil:
		checks["media"] = map[string]any{"status": "disabled"}
	default:
		if err := s.media.Ping(ctx); err != nil {
			checks["media"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["media"] = map[string]any{"status": "ok"}
		}
	}

	return ready, checks
}

// populate fills user summaries into refs that only carry an id.
func (s *Service) populate(ctx context.Context, refs ...*ref.Ref) error {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if _, ok := r.Summary(); !ok && !r.IsZero() {
			ids = append(ids, r.ID())
		}
	}
	if len(ids) == 0 {
		return nil
	}
	users, err := s.store.UserSummaries(ctx, ids)
	if err != nil {
		return fmt.Errorf("load user summaries: %w", err)
	}
	for _, r := range refs {
		if user, ok := users[r.ID()]; ok {
			*r = r.WithSummary(user.Summary())
		}
	}
	return nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
