package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultItem    ResultType = "item"
	ResultHistory ResultType = "history"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	ItemFullID string     `json:"itemFullId"`
	ProjectID  string     `json:"projectId"`
	Version    int        `json:"version,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	Limit           int
	Offset          int
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

// Indexer can push entities into a search index.
type Indexer interface {
	IndexItem(item ItemRecord) error
	IndexHistory(h HistoryRecord) error
	DeleteItem(id string) error
}

// ItemRecord is the data we index for an item.
type ItemRecord struct {
	ID        string `json:"id"`
	FullID    string `json:"fullId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	ProjectID string `json:"projectId"`
	IsDeleted bool   `json:"isDeleted"`
}

// HistoryRecord is the data we index for a ledger entry.
type HistoryRecord struct {
	ID           string `json:"id"`
	ItemFullID   string `json:"itemFullId"`
	ItemTitle    string `json:"itemTitle"`
	SubmitReason string `json:"submitReason"`
	ReviewNote   string `json:"reviewNote"`
	ChangeType   string `json:"changeType"`
	Version      int    `json:"version"`
	ProjectID    string `json:"projectId"`
}
