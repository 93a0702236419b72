package search

// ResultType identifies the kind of listing in a search result.
type ResultType string

const (
	ResultPost    ResultType = "post"
	ResultRequest ResultType = "request"
	ResultArticle ResultType = "article"
)

// ParseResultType maps the ?type= query value. Empty means all types.
func ParseResultType(value string) (ResultType, bool) {
	switch ResultType(value) {
	case "":
		return "", true
	case ResultPost, ResultRequest, ResultArticle:
		return ResultType(value), true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Location string     `json:"location,omitempty"`
	Status   string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	// OpenOnly hides completed posts and fulfilled requests.
	OpenOnly bool
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push listings into a search index.
type Indexer interface {
	IndexPost(p PostRecord) error
	IndexRequest(r RequestRecord) error
	IndexArticle(a ArticleRecord) error
	Delete(kind ResultType, id string) error
}

type PostRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Type        string `json:"type"`
	Status      string `json:"status"`
}

type RequestRecord struct {
	ID        string `json:"id"`
	PlantName string `json:"plantName"`
	Reason    string `json:"reason"`
	Category  string `json:"category"`
	Location  string `json:"location"`
	Status    string `json:"status"`
}

type ArticleRecord struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}
