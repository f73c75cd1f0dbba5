// ABOUTME: Store interface and data types for veche persistence
// ABOUTME: Defines User, Poll, Vote, Template, session structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateTemplate is returned when trying to create a template whose name is taken
var ErrDuplicateTemplate = errors.New("template already exists")

// Permission is a user's access level, ordered from none to admin.
type Permission string

const (
	PermissionNone   Permission = "none"
	PermissionUse    Permission = "use"
	PermissionCreate Permission = "create"
	PermissionAdmin  Permission = "admin"
)

var permissionRank = map[Permission]int{
	PermissionNone:   0,
	PermissionUse:    1,
	PermissionCreate: 2,
	PermissionAdmin:  3,
}

// AtLeast reports whether p grants at least the access level of q.
// Unknown permissions rank below none.
func (p Permission) AtLeast(q Permission) bool {
	return permissionRank[p] >= permissionRank[q]
}

// VotingType classifies a poll's options.
type VotingType string

const (
	VotingBinary   VotingType = "binary"   // for/against
	VotingApproval VotingType = "approval" // for/against/abstain
	VotingChoice   VotingType = "choice"   // open choice
)

// DecisionStatus is the engine's current verdict for a poll.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionAccepted DecisionStatus = "accepted"
	DecisionRejected DecisionStatus = "rejected"
)

// PollStatus is a poll's lifecycle state.
const (
	PollStatusActive = "active"
	PollStatusClosed = "closed"
)

// User represents a chat user known to the bot.
// Users are created on first inbound event and touched on every event.
type User struct {
	ID           string
	Username     string
	Permission   Permission
	LastActivity time.Time
}

// Template is a reusable poll blueprint with {variable} placeholders.
type Template struct {
	Name         string
	Question     string
	Options      []string
	Description  string
	Variables    []string
	Threshold    int // percent, 1-100
	Cap          int // max participants, 0 = unlimited
	NonAnonymous bool
	OwnerID      string
	UsageCount   int
	CreatedAt    time.Time
}

// Poll is a single decision question, open for voting until closed.
type Poll struct {
	ID             string
	Question       string
	Options        []string
	ChatID         string
	MessageID      string
	CreatorID      string
	Status         string // active, closed
	Threshold      int
	Cap            int
	VotingType     VotingType
	NonAnonymous   bool
	DecisionStatus DecisionStatus
	DecisionNumber *int // assigned once, on first non-pending status
	TemplateUsed   string
	CreatedAt      time.Time
}

// Active reports whether the poll is still open for voting.
func (p *Poll) Active() bool {
	return p.Status == PollStatusActive
}

// Vote is one voter's current choice in a poll. At most one row per (poll, voter);
// a repeat vote replaces the previous one.
type Vote struct {
	PollID      string
	VoterID     string
	OptionIndex int
	DisplayName string
	VotedAt     time.Time
}

// Session holds a user's in-progress wizard state. At most one row per user.
type Session struct {
	UserID    string
	State     string
	Payload   []byte // wizard-defined JSON
	UpdatedAt time.Time
}

// TemplateSession tracks variable collection for a template instantiation.
type TemplateSession struct {
	ID           string
	UserID       string
	TemplateName string
	Variables    []string          // in template-declared order
	Values       map[string]string // collected so far
	CurrentIndex int
	ChatID       string
	CreatedAt    time.Time
}

// NextVariable returns the variable currently awaiting a value, or "" when done.
func (s *TemplateSession) NextVariable() string {
	if s.CurrentIndex >= len(s.Variables) {
		return ""
	}
	return s.Variables[s.CurrentIndex]
}

// Store defines the interface for veche persistence.
// All decision computations re-read live vote state through this interface;
// no in-process copy of poll or vote data is authoritative.
type Store interface {
	// Users
	UpsertUser(ctx context.Context, id, username string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	SetPermission(ctx context.Context, id string, perm Permission) error
	DeleteUserCascade(ctx context.Context, id string) error
	CountUsers(ctx context.Context) (int, error)

	// Templates
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, name string) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)
	DeleteTemplate(ctx context.Context, name string) error
	IncrementTemplateUsage(ctx context.Context, name string) error
	SetTemplateThreshold(ctx context.Context, name string, threshold int) error

	// Polls
	CreatePoll(ctx context.Context, p *Poll) error
	GetPoll(ctx context.Context, id string) (*Poll, error)
	SetPollMessage(ctx context.Context, id, chatID, messageID string) error
	ClosePoll(ctx context.Context, id string) (closed bool, err error)
	ListActivePolls(ctx context.Context, limit int) ([]*Poll, error)
	CountPolls(ctx context.Context) (active int, total int, err error)
	CloseExpiredPolls(ctx context.Context, olderThan time.Time) ([]string, error)
	FindRecentPoll(ctx context.Context, creatorID, question string, since time.Time) (*Poll, error)
	CacheDecision(ctx context.Context, pollID string, status DecisionStatus) (*Poll, error)

	// Votes
	UpsertVote(ctx context.Context, v *Vote) error
	CountDistinctVoters(ctx context.Context, pollID string) (int, error)
	VoteCounts(ctx context.Context, pollID string) (map[int]int, error)
	ListVotes(ctx context.Context, pollID string) ([]*Vote, error)

	// Wizard sessions
	GetSession(ctx context.Context, userID string) (*Session, error)
	PutSession(ctx context.Context, s *Session) error
	DeleteSession(ctx context.Context, userID string) error
	DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error)
	EnforceSessionCap(ctx context.Context, max int) (int, error)

	// Template instantiation sessions
	CreateTemplateSession(ctx context.Context, s *TemplateSession) error
	GetTemplateSession(ctx context.Context, id string) (*TemplateSession, error)
	GetTemplateSessionByUser(ctx context.Context, userID string) (*TemplateSession, error)
	UpdateTemplateSession(ctx context.Context, s *TemplateSession) error
	DeleteTemplateSession(ctx context.Context, id string) error
	DeleteIdleTemplateSessions(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases any resources held by the store
	Close() error
}
