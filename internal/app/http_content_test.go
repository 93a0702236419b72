package app

import (
	"net/http"
	"sync"
	"testing"

	"ecocropshare/api/internal/gitrepo"
	"ecocropshare/api/internal/search"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostOwnershipRules(t *testing.T) {
	env := newTestEnv(t)
	ada := env.login(t, "usr_a", "Ada")
	bo := env.login(t, "usr_b", "Bo")
	postID := createPost(t, env, ada, "Runner beans")

	rr, payload := env.do(t, http.MethodPut, "/posts/"+postID, bo, map[string]any{"title": "Mine now"})
	requireFailure(t, rr, payload, http.StatusForbidden, "FORBIDDEN")

	rr, payload = env.do(t, http.MethodPut, "/posts/"+postID, ada, map[string]any{"quantity": "40 seeds", "type": "tuber"})
	requireFailure(t, rr, payload, http.StatusBadRequest, "VALIDATION_ERROR")

	rr, payload = env.do(t, http.MethodPut, "/posts/"+postID, ada, map[string]any{"quantity": "40 seeds"})
	requireStatus(t, rr, http.StatusOK)
	post := object(t, payload, "post")
	assert.Equal(t, "Runner beans", post["title"])
	assert.Equal(t, "40 seeds", post["quantity"])
	assert.Equal(t, "available", post["status"])
	assert.Equal(t, "Ada", object(t, post, "userId")["name"])

	rr, payload = env.do(t, http.MethodDelete, "/posts/"+postID, bo, nil)
	requireFailure(t, rr, payload, http.StatusForbidden, "FORBIDDEN")

	rr, _ = env.do(t, http.MethodDelete, "/posts/"+postID, ada, nil)
	requireStatus(t, rr, http.StatusOK)

	rr, payload = env.do(t, http.MethodGet, "/posts/"+postID, ada, nil)
	requireFailure(t, rr, payload, http.StatusNotFound, "NOT_FOUND")
}

func TestCreatePostValidation(t *testing.T) {
	env := newTestEnv(t)
	ada := env.login(t, "usr_a", "Ada")

	cases := map[string]map[string]any{
		"missing title":     {"type": "seed", "exchangeType": "free"},
		"bad type":          {"title": "x", "type": "tree", "exchangeType": "free"},
		"bad exchange type": {"title": "x", "type": "seed", "exchangeType": "sale"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr, payload := env.do(t, http.MethodPost, "/posts", ada, body)
			requireFailure(t, rr, payload, http.StatusBadRequest, "VALIDATION_ERROR")
		})
	}
}

func TestListPostsFilters(t *testing.T) {
	env := newTestEnv(t)
	ada := env.login(t, "usr_a", "Ada")
	bo := env.login(t, "usr_b", "Bo")
	createPost(t, env, ada, "Squash")
	createPost(t, env, bo, "Fennel")

	rr, payload := env.do(t, http.MethodGet, "/posts?userId=usr_b", ada, nil)
	requireStatus(t, rr, http.StatusOK)
	posts := list(t, payload, "posts")
	require.Len(t, posts, 1)
	assert.Equal(t, "Fennel", posts[0].(map[string]any)["title"])

	rr, payload = env.do(t, http.MethodGet, "/posts?status=gone", ada, nil)
	requireFailure(t, rr, payload, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestCommentsRequireParentAndCascade(t *testing.T) {
	env := newTestEnv(t)
	ada := env.login(t, "usr_a", "Ada")
	bo := env.login(t, "usr_b", "Bo")
	postID := createPost(t, env, ada, "Sunflower seeds")

	rr, payload := env.do(t, http.MethodPost, "/comments", bo, map[string]any{"parentType": "post", "parentId": "pst_missing", "content": "hi"})
	requireFailure(t, rr, payload, http.StatusNotFound, "NOT_FOUND")

	rr, payload = env.do(t, http.MethodPost, "/comments", bo, map[string]any{"parentType": "article", "parentId": postID, "content": "hi"})
	requireFailure(t, rr, payload, http.StatusBadRequest, "VALIDATION_ERROR")

	rr, payload = env.do(t, http.MethodPost, "/comments", bo, map[string]any{"parentType": "post", "parentId": postID, "content": "Still available?"})
	requireStatus(t, rr, http.StatusCreated)
	commentID := object(t, payload, "comment")["id"].(string)

	rr, payload = env.do(t, http.MethodDelete, "/comments/"+commentID, ada, nil)
	requireFailure(t, rr, payload, http.StatusForbidden, "FORBIDDEN")

	env.do(t, http.MethodPost, "/comments", ada, map[string]any{"parentType": "post", "parentId": postID, "content": "Yes"})
	rr, payload = env.do(t, http.MethodGet, "/comments?parentType=post&parentId="+postID, bo, nil)
	requireStatus(t, rr, http.StatusOK)
	assert.Len(t, list(t, payload, "comments"), 2)

	rr, _ = env.do(t, http.MethodDelete, "/posts/"+postID, ada, nil)
	requireStatus(t, rr, http.StatusOK)
	assert.Empty(t, env.store.comments)

	rr, payload = env.do(t, http.MethodPost, "/comments", bo, map[string]any{"parentType": "post", "parentId": postID, "content": "Too late?"})
	requireFailure(t, rr, payload, http.StatusNotFound, "NOT_FOUND")
	assert.Empty(t, env.store.comments)
}

func TestRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ada := env.login(t, "usr_a", "Ada")
	requestID := createRequest(t, env, ada, "Lemon balm")

	rr, payload := env.do(t, http.MethodPut, "/requests/"+requestID, ada, map[string]any{"reason": "tea garden"})
	requireStatus(t, rr, http.StatusOK)
	request := object(t, payload, "request")
	assert.Equal(t, "Lemon balm", request["plantName"])
	assert.Equal(t, "tea garden", request["reason"])
	assert.Equal(t, "open", request["status"])

	rr, payload = env.do(t, http.MethodPost, "/requests", ada, map[string]any{"plantName": " "})
	requireFailure(t, rr, payload, http.StatusBadRequest, "VALIDATION_ERROR")

	rr, _ = env.do(t, http.MethodDelete, "/requests/"+requestID, ada, nil)
	requireStatus(t, rr, http.StatusOK)
}

func createArticle(t *testing.T, env *testEnv, token, title, category string, tags ...string) string {
	t.Helper()
	rr, payload := env.do(t, http.MethodPost, "/articles", token, map[string]any{
		"title": title, "content": "How to grow " + title, "category": category, "tags": tags,
	})
	requireStatus(t, rr, http.StatusCreated)
	return object(t, payload, "article")["id"].(string)
}

func TestRelatedArticles(t *testing.T) {
	env := newTestEnv(t)
	ada := env.login(t, "usr_a", "Ada")
	base := createArticle(t, env, ada, "Composting", "soil", "compost")
	createArticle(t, env, ada, "Mulch", "soil")
	createArticle(t, env, ada, "Worms", "fauna", "compost")
	createArticle(t, env, ada, "Pruning", "trees")
	createArticle(t, env, ada, "Leaf mould", "soil")
	createArticle(t, env, ada, "Hot beds", "structures", "compost")

	rr, payload := env.do(t, http.MethodGet, "/articles/"+base+"/related", ada, nil)
	requireStatus(t, rr, http.StatusOK)
	titles := []string{}
	for _, item := range list(t, payload, "articles") {
		titles = append(titles, item.(map[string]any)["title"].(string))
	}
	if diff := cmp.Diff([]string{"Hot beds", "Leaf mould", "Worms"}, titles); diff != "" {
		t.Fatalf("related articles mismatch (-want +got):\n%s", diff)
	}
}

func TestArticleRevisionsFollowEdits(t *testing.T) {
	env := newTestEnv(t)
	env.svc.revisions = gitrepo.New(t.TempDir())
	ada := env.login(t, "usr_a", "Ada")
	bo := env.login(t, "usr_b", "Bo")
	articleID := createArticle(t, env, ada, "Seed saving", "seeds", "heirloom")

	rr, payload := env.do(t, http.MethodPut, "/articles/"+articleID, bo, map[string]any{"title": "Hijacked"})
	requireFailure(t, rr, payload, http.StatusForbidden, "FORBIDDEN")

	rr, _ = env.do(t, http.MethodPut, "/articles/"+articleID, ada, map[string]any{
		"content": "Dry the pods first.", "message": "Add drying step",
	})
	requireStatus(t, rr, http.StatusOK)

	rr, payload = env.do(t, http.MethodGet, "/articles/"+articleID+"/revisions", bo, nil)
	requireStatus(t, rr, http.StatusOK)
	revisions := list(t, payload, "revisions")
	require.Len(t, revisions, 2)
	latest := revisions[0].(map[string]any)
	assert.Equal(t, "Add drying step", latest["message"])
	assert.Equal(t, []any{"content"}, latest["changed"])

	first := revisions[1].(map[string]any)["hash"].(string)
	rr, payload = env.do(t, http.MethodGet, "/articles/"+articleID+"/revisions/"+first, bo, nil)
	requireStatus(t, rr, http.StatusOK)
	assert.Equal(t, "How to grow Seed saving", object(t, payload, "content")["content"])

	rr, payload = env.do(t, http.MethodGet, "/articles/"+articleID+"/revisions/deadbeef", bo, nil)
	requireFailure(t, rr, payload, http.StatusNotFound, "NOT_FOUND")

	rr, _ = env.do(t, http.MethodDelete, "/articles/"+articleID, ada, nil)
	requireStatus(t, rr, http.StatusOK)
	rr, payload = env.do(t, http.MethodGet, "/articles/"+articleID+"/revisions", ada, nil)
	requireFailure(t, rr, payload, http.StatusNotFound, "NOT_FOUND")
}

type fakeSearch struct {
	mu       sync.Mutex
	queries  []search.Query
	posts    []search.PostRecord
	articles []search.ArticleRecord
	removed  []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{{Type: search.ResultPost, ID: "pst_1", Title: "Tomato"}}, Total: 1, Query: q.Text}
}

func (f *fakeSearch) IndexPost(p search.PostRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, p)
}

func (f *fakeSearch) IndexRequest(search.RequestRecord) {}

func (f *fakeSearch) IndexArticle(a search.ArticleRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles = append(f.articles, a)
}

func (f *fakeSearch) Remove(kind search.ResultType, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, string(kind)+":"+id)
}

func (f *fakeSearch) Healthy() bool { return true }

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ada := env.login(t, "usr_a", "Ada")

	rr, payload := env.do(t, http.MethodGet, "/search?q=tomato", ada, nil)
	requireFailure(t, rr, payload, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE")

	index := &fakeSearch{}
	env.svc.search = index

	rr, payload = env.do(t, http.MethodGet, "/search?q=%20%20", ada, nil)
	requireFailure(t, rr, payload, http.StatusBadRequest, "VALIDATION_ERROR")

	rr, payload = env.do(t, http.MethodGet, "/search?q=tomato&type=user", ada, nil)
	requireFailure(t, rr, payload, http.StatusBadRequest, "VALIDATION_ERROR")

	rr, payload = env.do(t, http.MethodGet, "/search?q=tomato&type=post&open=true", ada, nil)
	requireStatus(t, rr, http.StatusOK)
	assert.Equal(t, float64(1), payload["total"])
	require.Len(t, index.queries, 1)
	assert.Equal(t, search.Query{Text: "tomato", FilterType: search.ResultPost, OpenOnly: true, Limit: searchLimit}, index.queries[0])
}

func TestListingChangesReachSearchIndex(t *testing.T) {
	env := newTestEnv(t)
	index := &fakeSearch{}
	env.svc.search = index
	ada := env.login(t, "usr_a", "Ada")
	env.store.addUser("usr_b", "Bo")

	postID := createPost(t, env, ada, "Rhubarb crowns")
	rr, _ := env.do(t, http.MethodPost, "/posts/"+postID+"/fulfill", ada, map[string]any{"partnerId": "usr_b"})
	requireStatus(t, rr, http.StatusOK)
	articleID := createArticle(t, env, ada, "Forcing rhubarb", "perennials")
	rr, _ = env.do(t, http.MethodDelete, "/articles/"+articleID, ada, nil)
	requireStatus(t, rr, http.StatusOK)

	require.Len(t, index.posts, 2)
	assert.Equal(t, "available", index.posts[0].Status)
	assert.Equal(t, "completed", index.posts[1].Status)
	require.Len(t, index.articles, 1)
	assert.Equal(t, []string{"article:" + articleID}, index.removed)
}
