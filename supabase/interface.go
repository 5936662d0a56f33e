package supabase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/creastat/console"
)

// Table names used by the console.
const (
	tableSessions       = "chat_sessions"
	tableMessages       = "chat_messages"
	tableConfigurations = "api_configurations"
	tableLogs           = "system_logs"
	tableGitHub         = "github_connections"
	tableRAGTiers       = "rag_tiers"
	tableProjectDocs    = "project_documents"
	tableUserRoles      = "user_roles"
)

// SessionTable provides access to chat session rows.
type SessionTable interface {
	// ListSessions returns the user's sessions, most recently accessed first.
	ListSessions(ctx context.Context, userID string) ([]console.Session, error)

	// InsertSession persists a new session and returns the stored row.
	InsertSession(ctx context.Context, session console.Session) (*console.Session, error)

	// UpdateSession applies the non-nil fields of update.
	UpdateSession(ctx context.Context, id string, update SessionUpdate) error

	// DeleteSession deletes a session; its messages cascade server-side.
	DeleteSession(ctx context.Context, id string) error
}

// SessionUpdate carries the mutable session columns.
type SessionUpdate struct {
	Title        *string
	LastAccessed *time.Time
	Archived     *bool
	TokensUsed   *int
	MessageCount *int
}

// MessageTable provides access to chat message rows.
type MessageTable interface {
	// ListMessages returns a session's messages, oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]console.Message, error)

	// InsertMessage persists a message and returns the stored row. The
	// backend may assign a different id than the one supplied.
	InsertMessage(ctx context.Context, msg console.Message) (*console.Message, error)
}

// ConfigurationTable provides access to provider configuration rows.
type ConfigurationTable interface {
	ListConfigurations(ctx context.Context, userID string) ([]console.APIConfiguration, error)
	InsertConfiguration(ctx context.Context, cfg console.APIConfiguration) (*console.APIConfiguration, error)
	UpdateConfiguration(ctx context.Context, id string, update ConfigurationUpdate) error
	DeleteConfiguration(ctx context.Context, id string) error
}

// ConfigurationUpdate carries the mutable configuration columns.
type ConfigurationUpdate struct {
	MemorableName    *string
	SecretKeyName    *string
	IsEnabled        *bool
	IsDefault        *bool
	ValidationStatus *console.ValidationStatus
	ProviderSettings map[string]any
}

// LogTable provides read access to system logs.
type LogTable interface {
	ListLogs(ctx context.Context, filter LogFilter) ([]console.LogEntry, error)
}

// LogFilter narrows a log query. Zero values mean no constraint.
type LogFilter struct {
	Level console.LogLevel
	Since *time.Time
	Limit int
}

// GitHubTable provides access to linked GitHub account rows.
type GitHubTable interface {
	ListGitHubConnections(ctx context.Context, userID string) ([]console.GitHubConnection, error)
	SetDefaultGitHubConnection(ctx context.Context, userID, id string) error
}

// RAGTable provides read access to tier state and indexable documents.
type RAGTable interface {
	GetRAGTier(ctx context.Context, userID string) (*console.RAGTierState, error)
	ListProjectDocuments(ctx context.Context, projectID string) ([]console.ProjectDocument, error)
}

// RoleTable resolves the authorization role of a user.
type RoleTable interface {
	GetUserRole(ctx context.Context, userID string) (console.UserRole, error)
}

// Functions invokes named Edge Functions. The JSON body is sent as-is and the
// response (after unwrapping a {data, error} envelope) is decoded into out,
// which may be nil. There is no automatic retry.
type Functions interface {
	Invoke(ctx context.Context, name string, body any, out any) error
}

// Authenticator signs users in and out of the backend.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*console.AuthSession, error)
	SignOut(ctx context.Context) error
}

// Backend is the full capability set the console consumes.
type Backend interface {
	SessionTable
	MessageTable
	ConfigurationTable
	LogTable
	GitHubTable
	RAGTable
	RoleTable
	Functions
	Authenticator

	// Close releases resources held by the backend client.
	Close() error
}

// FunctionHandler serves an Edge Function in the in-memory backend.
type FunctionHandler func(ctx context.Context, body json.RawMessage) (any, error)
