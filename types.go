// Package console holds the domain model shared by the chat console stores.
//
// Every type here is a cached projection of a row owned by the backend. The
// client never derives these values locally; they are refreshed by explicit
// queries and mutations.
package console

import "time"

// Mode is the functional context of a session.
type Mode string

const (
	ModeChat     Mode = "chat"
	ModeDev      Mode = "dev"
	ModeImage    Mode = "image"
	ModeTraining Mode = "training"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeChat, ModeDev, ModeImage, ModeTraining:
		return true
	}
	return false
}

// Session is a persisted conversation thread.
type Session struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	UserID       string         `json:"user_id"`
	Mode         Mode           `json:"mode"`
	ProviderID   *string        `json:"provider_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	TokensUsed   int            `json:"tokens_used"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Archived     bool           `json:"archived"`
	MessageCount int            `json:"message_count"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleError     Role = "error"
)

// Valid reports whether r is a known message role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool, RoleError:
		return true
	}
	return false
}

// MessageStatus tracks the delivery state of a message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
	StatusRetrying  MessageStatus = "retrying"
	StatusCanceled  MessageStatus = "canceled"
)

// Message is a single entry in a session.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Type           string         `json:"type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Status         MessageStatus  `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	RetryCount     int            `json:"retry_count"`
}

// APIType names an external provider.
type APIType string

const (
	APIOpenAI      APIType = "openai"
	APIAnthropic   APIType = "anthropic"
	APIGemini      APIType = "gemini"
	APIHuggingFace APIType = "huggingface"
	APIGitHub      APIType = "github"
	APIPinecone    APIType = "pinecone"
)

// Valid reports whether t is a supported provider type.
func (t APIType) Valid() bool {
	switch t {
	case APIOpenAI, APIAnthropic, APIGemini, APIHuggingFace, APIGitHub, APIPinecone:
		return true
	}
	return false
}

// ValidationStatus is the outcome of the last connection test.
type ValidationStatus string

const (
	ValidationUnverified ValidationStatus = "unverified"
	ValidationValid      ValidationStatus = "valid"
	ValidationInvalid    ValidationStatus = "invalid"
	ValidationError      ValidationStatus = "error"
)

// APIConfiguration is a named provider credential record. The secret itself
// is held server-side and referenced by SecretKeyName.
type APIConfiguration struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	APIType          APIType          `json:"api_type"`
	MemorableName    string           `json:"memorable_name"`
	SecretKeyName    string           `json:"secret_key_name"`
	IsEnabled        bool             `json:"is_enabled"`
	IsDefault        bool             `json:"is_default"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ProviderSettings map[string]any   `json:"provider_settings,omitempty"`
}

// GitHubConnection is the client-side view of a linked GitHub account.
type GitHubConnection struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	AvatarURL      string     `json:"avatar_url"`
	Default        bool       `json:"default"`
	Status         string     `json:"status"`
	Scopes         []string   `json:"scopes"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// Tier is the RAG service level.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// RAGLimits bounds what a tier may store.
type RAGLimits struct {
	MaxVectors      int   `json:"max_vectors"`
	MaxStorageBytes int64 `json:"max_storage_bytes"`
}

// RAGTierState describes a user's vector storage tier and usage.
type RAGTierState struct {
	Tier        Tier      `json:"tier"`
	VectorCount int       `json:"vector_count"`
	StorageUsed int64     `json:"storage_used"`
	Limits      RAGLimits `json:"limits"`
}

// Usage returns the fraction of the vector limit in use, or 0 when unlimited.
func (s RAGTierState) Usage() float64 {
	if s.Limits.MaxVectors <= 0 {
		return 0
	}
	return float64(s.VectorCount) / float64(s.Limits.MaxVectors)
}

// ProjectDocument is a project file eligible for vector indexing.
type ProjectDocument struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	Path      string            `json:"path"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// LogLevel is the severity of a system log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is a row from the system log table.
type LogEntry struct {
	ID        string         `json:"id"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// UserRole is the authorization role cached for the signed-in user.
type UserRole string

const (
	RoleNameUser       UserRole = "user"
	RoleNameAdmin      UserRole = "admin"
	RoleNameSuperAdmin UserRole = "super_admin"
)

// AuthSession is the result of a successful sign-in.
type AuthSession struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}
