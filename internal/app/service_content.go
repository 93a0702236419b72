package app

import (
	"context"
	"errors"
	"strings"

	"ecocropshare/api/internal/gitrepo"
	"ecocropshare/api/internal/log"
	"ecocropshare/api/internal/ownership"
	"ecocropshare/api/internal/ref"
	"ecocropshare/api/internal/search"
	"ecocropshare/api/internal/store"
	"ecocropshare/api/internal/util"
)

const (
	relatedArticleLimit = 3
	revisionListLimit   = 50
	searchLimit         = 20
)

// PostInput is shared by create and update. On update, blank strings and a
// nil Images slice keep the stored value.
type PostInput struct {
	Title        string   `json:"title"`
	Type         string   `json:"type"`
	ExchangeType string   `json:"exchangeType"`
	Quantity     string   `json:"quantity"`
	Location     string   `json:"location"`
	Images       []string `json:"images"`
	Description  string   `json:"description"`
}

func validPostType(value string) bool {
	return value == store.PostTypeSeed || value == store.PostTypeHarvest
}

func validExchangeType(value string) bool {
	return value == store.ExchangeBarter || value == store.ExchangeFree
}

func (s *Service) CreatePost(ctx context.Context, sess Session, in PostInput) (store.Post, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return store.Post{}, validationError("title is required")
	}
	if !validPostType(in.Type) {
		return store.Post{}, validationError("type must be seed or harvest")
	}
	if !validExchangeType(in.ExchangeType) {
		return store.Post{}, validationError("exchangeType must be barter or free")
	}

	post, err := s.store.InsertPost(ctx, store.Post{
		ID:           util.NewID("pst"),
		UserID:       ref.New(sess.UserID),
		Title:        title,
		Type:         in.Type,
		ExchangeType: in.ExchangeType,
		Quantity:     strings.TrimSpace(in.Quantity),
		Location:     strings.TrimSpace(in.Location),
		Images:       cleanList(in.Images),
		Description:  strings.TrimSpace(in.Description),
		Status:       store.PostAvailable,
	})
	if err != nil {
		return store.Post{}, err
	}
	s.indexPost(post)
	return post, nil
}

func (s *Service) ListPosts(ctx context.Context, filter store.PostFilter) ([]store.Post, error) {
	if filter.Type != "" && !validPostType(filter.Type) {
		return nil, validationError("type must be seed or harvest")
	}
	if filter.ExchangeType != "" && !validExchangeType(filter.ExchangeType) {
		return nil, validationError("exchangeType must be barter or free")
	}
	if filter.Status != "" && filter.Status != store.PostAvailable && filter.Status != store.PostCompleted {
		return nil, validationError("status must be available or completed")
	}
	return s.store.ListPosts(ctx, filter)
}

func (s *Service) GetPost(ctx context.Context, id string) (store.Post, error) {
	return s.store.GetPost(ctx, id)
}

func (s *Service) UpdatePost(ctx context.Context, sess Session, id string, in PostInput) (store.Post, error) {
	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		return store.Post{}, err
	}
	if !ownership.Can(sess.UserID, post.UserID, ownership.ActionEdit) {
		return store.Post{}, forbidden("Only the owner can edit this post")
	}
	if in.Type != "" && !validPostType(in.Type) {
		return store.Post{}, validationError("type must be seed or harvest")
	}
	if in.ExchangeType != "" && !validExchangeType(in.ExchangeType) {
		return store.Post{}, validationError("exchangeType must be barter or free")
	}

	post.Title = keep(post.Title, in.Title)
	post.Type = keep(post.Type, in.Type)
	post.ExchangeType = keep(post.ExchangeType, in.ExchangeType)
	post.Quantity = keep(post.Quantity, in.Quantity)
	post.Location = keep(post.Location, in.Location)
	post.Description = keep(post.Description, in.Description)
	if in.Images != nil {
		post.Images = cleanList(in.Images)
	}

	updated, err := s.store.UpdatePost(ctx, post)
	if err != nil {
		return store.Post{}, err
	}
	s.indexPost(updated)
	return updated, nil
}

func (s *Service) DeletePost(ctx context.Context, sess Session, id string) error {
	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if !ownership.Can(sess.UserID, post.UserID, ownership.ActionDelete) {
		return forbidden("Only the owner can delete this post")
	}
	if err := s.store.DeletePost(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.Remove(search.ResultPost, id)
	}
	s.removeImages(ctx, sess.UserID, post.Images...)
	return nil
}

// RequestInput follows the same keep-on-blank rule as PostInput.
type RequestInput struct {
	PlantName string `json:"plantName"`
	Location  string `json:"location"`
	Reason    string `json:"reason"`
	Category  string `json:"category"`
	Quantity  string `json:"quantity"`
}

func (s *Service) CreateRequest(ctx context.Context, sess Session, in RequestInput) (store.Request, error) {
	plantName := strings.TrimSpace(in.PlantName)
	if plantName == "" {
		return store.Request{}, validationError("plantName is required")
	}
	request, err := s.store.InsertRequest(ctx, store.Request{
		ID:        util.NewID("req"),
		UserID:    ref.New(sess.UserID),
		PlantName: plantName,
		Location:  strings.TrimSpace(in.Location),
		Reason:    strings.TrimSpace(in.Reason),
		Category:  strings.TrimSpace(in.Category),
		Quantity:  strings.TrimSpace(in.Quantity),
		Status:    store.RequestOpen,
	})
	if err != nil {
		return store.Request{}, err
	}
	s.indexRequest(request)
	return request, nil
}

func (s *Service) ListRequests(ctx context.Context, filter store.RequestFilter) ([]store.Request, error) {
	if filter.Status != "" && filter.Status != store.RequestOpen && filter.Status != store.RequestFulfilled {
		return nil, validationError("status must be open or fulfilled")
	}
	return s.store.ListRequests(ctx, filter)
}

func (s *Service) GetRequest(ctx context.Context, id string) (store.Request, error) {
	return s.store.GetRequest(ctx, id)
}

func (s *Service) UpdateRequest(ctx context.Context, sess Session, id string, in RequestInput) (store.Request, error) {
	request, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return store.Request{}, err
	}
	if !ownership.Can(sess.UserID, request.UserID, ownership.ActionEdit) {
		return store.Request{}, forbidden("Only the owner can edit this request")
	}
	request.PlantName = keep(request.PlantName, in.PlantName)
	request.Location = keep(request.Location, in.Location)
	request.Reason = keep(request.Reason, in.Reason)
	request.Category = keep(request.Category, in.Category)
	request.Quantity = keep(request.Quantity, in.Quantity)

	updated, err := s.store.UpdateRequest(ctx, request)
	if err != nil {
		return store.Request{}, err
	}
	s.indexRequest(updated)
	return updated, nil
}

func (s *Service) DeleteRequest(ctx context.Context, sess Session, id string) error {
	request, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !ownership.Can(sess.UserID, request.UserID, ownership.ActionDelete) {
		return forbidden("Only the owner can delete this request")
	}
	if err := s.store.DeleteRequest(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.Remove(search.ResultRequest, id)
	}
	return nil
}

type CommentInput struct {
	ParentID   string `json:"parentId"`
	ParentType string `json:"parentType"`
	Content    string `json:"content"`
}

func validParentType(value string) bool {
	return value == store.ParentPost || value == store.ParentRequest
}

func (s *Service) CreateComment(ctx context.Context, sess Session, in CommentInput) (store.Comment, error) {
	content := strings.TrimSpace(in.Content)
	parentID := strings.TrimSpace(in.ParentID)
	if content == "" || parentID == "" {
		return store.Comment{}, validationError("parentId and content are required")
	}
	if !validParentType(in.ParentType) {
		return store.Comment{}, validationError("parentType must be post or request")
	}
	// The store refuses the insert once the parent is gone.
	return s.store.InsertComment(ctx, store.Comment{
		ID:         util.NewID("cmt"),
		UserID:     ref.New(sess.UserID),
		ParentID:   parentID,
		ParentType: in.ParentType,
		Content:    content,
	})
}

func (s *Service) ListComments(ctx context.Context, parentType, parentID string) ([]store.Comment, error) {
	if !validParentType(parentType) || strings.TrimSpace(parentID) == "" {
		return nil, validationError("parentType (post or request) and parentId are required")
	}
	return s.store.ListComments(ctx, parentType, parentID)
}

func (s *Service) DeleteComment(ctx context.Context, sess Session, id string) error {
	comment, err := s.store.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if !ownership.Can(sess.UserID, comment.UserID, ownership.ActionDelete) {
		return forbidden("Only the author can delete this comment")
	}
	return s.store.DeleteComment(ctx, id)
}

// ArticleInput follows the keep-on-blank rule on update; a nil Tags slice
// keeps the stored tags.
type ArticleInput struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Image    string   `json:"image"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	// Message annotates the stored revision.
	Message string `json:"message"`
}

func (s *Service) CreateArticle(ctx context.Context, sess Session, in ArticleInput) (store.Article, error) {
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	if title == "" || content == "" {
		return store.Article{}, validationError("title and content are required")
	}
	article, err := s.store.InsertArticle(ctx, store.Article{
		ID:       util.NewID("art"),
		UserID:   ref.New(sess.UserID),
		Title:    title,
		Content:  content,
		Image:    strings.TrimSpace(in.Image),
		Category: strings.TrimSpace(in.Category),
		Tags:     cleanList(in.Tags),
	})
	if err != nil {
		return store.Article{}, err
	}
	s.recordRevision(article, sess, defaultMessage(in.Message, "Create article"))
	s.indexArticle(article)
	return article, nil
}

func (s *Service) ListArticles(ctx context.Context, filter store.ArticleFilter) ([]store.Article, error) {
	return s.store.ListArticles(ctx, filter)
}

func (s *Service) GetArticle(ctx context.Context, id string) (store.Article, error) {
	return s.store.GetArticle(ctx, id)
}

func (s *Service) RelatedArticles(ctx context.Context, id string) ([]store.Article, error) {
	article, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.RelatedArticles(ctx, article, relatedArticleLimit)
}

func (s *Service) UpdateArticle(ctx context.Context, sess Session, id string, in ArticleInput) (store.Article, error) {
	article, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return store.Article{}, err
	}
	if !ownership.Can(sess.UserID, article.UserID, ownership.ActionEdit) {
		return store.Article{}, forbidden("Only the author can edit this article")
	}
	article.Title = keep(article.Title, in.Title)
	article.Content = keep(article.Content, in.Content)
	article.Image = keep(article.Image, in.Image)
	article.Category = keep(article.Category, in.Category)
	if in.Tags != nil {
		article.Tags = cleanList(in.Tags)
	}

	updated, err := s.store.UpdateArticle(ctx, article)
	if err != nil {
		return store.Article{}, err
	}
	s.recordRevision(updated, sess, defaultMessage(in.Message, "Update article"))
	s.indexArticle(updated)
	return updated, nil
}

func (s *Service) DeleteArticle(ctx context.Context, sess Session, id string) error {
	article, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return err
	}
	if !ownership.Can(sess.UserID, article.UserID, ownership.ActionDelete) {
		return forbidden("Only the author can delete this article")
	}
	if err := s.store.DeleteArticle(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.Remove(search.ResultArticle, id)
	}
	if s.revisions != nil {
		if err := s.revisions.Remove(id); err != nil {
			log.Log.WithError(err).WithField("article_id", id).Warn("remove article revisions")
		}
	}
	return nil
}

func (s *Service) ArticleRevisions(ctx context.Context, id string) ([]gitrepo.Revision, error) {
	if _, err := s.store.GetArticle(ctx, id); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return nil, unavailable("REVISIONS_UNAVAILABLE", "Article history is not configured")
	}
	revisions, err := s.revisions.History(id, revisionListLimit)
	if errors.Is(err, gitrepo.ErrNoRevisions) {
		return []gitrepo.Revision{}, nil
	}
	return revisions, err
}

func (s *Service) ArticleRevision(ctx context.Context, id, hash string) (gitrepo.Content, gitrepo.Revision, error) {
	if _, err := s.store.GetArticle(ctx, id); err != nil {
		return gitrepo.Content{}, gitrepo.Revision{}, err
	}
	if s.revisions == nil {
		return gitrepo.Content{}, gitrepo.Revision{}, unavailable("REVISIONS_UNAVAILABLE", "Article history is not configured")
	}
	return s.revisions.Get(id, hash)
}

// recordRevision is best effort. The article row is already committed.
func (s *Service) recordRevision(article store.Article, sess Session, message string) {
	if s.revisions == nil {
		return
	}
	_, err := s.revisions.Record(article.ID, gitrepo.Content{
		Title:    article.Title,
		Content:  article.Content,
		Image:    article.Image,
		Category: article.Category,
		Tags:     article.Tags,
	}, sess.UserName, message)
	if err != nil {
		log.Log.WithError(err).WithField("article_id", article.ID).Warn("record article revision")
	}
}

// SearchInput carries the raw query parameters of GET /search.
type SearchInput struct {
	Text     string
	Type     string
	OpenOnly bool
	Offset   int
}

func (s *Service) Search(ctx context.Context, in SearchInput) (search.Response, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return search.Response{}, validationError("q is required")
	}
	kind, ok := search.ParseResultType(in.Type)
	if !ok {
		return search.Response{}, validationError("type must be post, request or article")
	}
	if s.search == nil {
		return search.Response{}, unavailable("SEARCH_UNAVAILABLE", "Search is not configured")
	}
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(search.Query{
		Text:       text,
		FilterType: kind,
		OpenOnly:   in.OpenOnly,
		Limit:      searchLimit,
		Offset:     offset,
	}), nil
}

func (s *Service) indexPost(post store.Post) {
	if s.search == nil {
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:          post.ID,
		Title:       post.Title,
		Description: post.Description,
		Location:    post.Location,
		Type:        post.Type,
		Status:      post.Status,
	})
}

func (s *Service) indexRequest(request store.Request) {
	if s.search == nil {
		return
	}
	s.search.IndexRequest(search.RequestRecord{
		ID:        request.ID,
		PlantName: request.PlantName,
		Reason:    request.Reason,
		Category:  request.Category,
		Location:  request.Location,
		Status:    request.Status,
	})
}

func (s *Service) indexArticle(article store.Article) {
	if s.search == nil {
		return
	}
	s.search.IndexArticle(search.ArticleRecord{
		ID:       article.ID,
		Title:    article.Title,
		Content:  article.Content,
		Category: article.Category,
		Tags:     article.Tags,
	})
}

func keep(current, next string) string {
	if trimmed := strings.TrimSpace(next); trimmed != "" {
		return trimmed
	}
	return current
}

func defaultMessage(message, fallback string) string {
	if trimmed := strings.TrimSpace(message); trimmed != "" {
		return trimmed
	}
	return fallback
}
