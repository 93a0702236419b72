package store

import (
	"errors"
	"time"

	"ecocropshare/api/internal/ref"
)

// ErrConflict reports a write rejected by a uniqueness or state precondition.
var ErrConflict = errors.New("conflict")

const (
	PostTypeSeed    = "seed"
	PostTypeHarvest = "harvest"

	ExchangeBarter = "barter"
	ExchangeFree   = "free"

	PostAvailable = "available"
	PostCompleted = "completed"

	RequestOpen      = "open"
	RequestFulfilled = "fulfilled"

	ParentPost    = "post"
	ParentRequest = "request"

	HistoryPost    = "post"
	HistoryRequest = "request"
)

type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Location       string    `json:"location"`
	FavoritePlants []string  `json:"favoritePlants"`
	ProfileImage   string    `json:"profileImage"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (u User) Summary() ref.Summary {
	return ref.Summary{Name: u.Name, ProfileImage: u.ProfileImage, Location: u.Location}
}

func (u User) Ref() ref.Ref {
	return ref.Populated(u.ID, u.Summary())
}

type Post struct {
	ID           string    `json:"id"`
	UserID       ref.Ref   `json:"userId"`
	Title        string    `json:"title"`
	Type         string    `json:"type"`
	ExchangeType string    `json:"exchangeType"`
	Quantity     string    `json:"quantity"`
	Location     string    `json:"location"`
	Images       []string  `json:"images"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type PostFilter struct {
	Type         string
	ExchangeType string
	Status       string
	UserID       string
}

type Request struct {
	ID        string    `json:"id"`
	UserID    ref.Ref   `json:"userId"`
	PlantName string    `json:"plantName"`
	Location  string    `json:"location"`
	Reason    string    `json:"reason"`
	Category  string    `json:"category"`
	Quantity  string    `json:"quantity"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RequestFilter struct {
	Status   string
	Category string
	UserID   string
}

type Comment struct {
	ID         string    `json:"id"`
	UserID     ref.Ref   `json:"userId"`
	ParentID   string    `json:"parentId"`
	ParentType string    `json:"parentType"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Article struct {
	ID        string    `json:"id"`
	UserID    ref.Ref   `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Image     string    `json:"image"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ArticleFilter struct {
	Category string
	Tag      string
}

type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Conversation is the single record kept per unordered pair of users.
// UnreadCount caches, per participant id, the unread messages addressed to them.
type Conversation struct {
	ID              string         `json:"id"`
	Participants    []ref.Ref      `json:"participants"`
	LastMessage     string         `json:"lastMessage"`
	LastMessageDate time.Time      `json:"lastMessageDate"`
	UnreadCount     map[string]int `json:"unreadCount"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// History records one completed exchange. Exactly one of PostID and RequestID
// is set, matching Type.
type History struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	PostID    string    `json:"postId,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	UserID    ref.Ref   `json:"userId"`
	PartnerID ref.Ref   `json:"partnerId"`
	PlantName string    `json:"plantName"`
	Notes     string    `json:"notes"`
	Date      time.Time `json:"date"`
}

type HistoryFilter struct {
	CallerID string
	Type     string
	// Role is "giver", "receiver" or "" for either side.
	Role string
}

// PairKey returns the sorted participant ids that identify a conversation.
func PairKey(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}
