package supabase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/creastat/console"
	"github.com/creastat/console/logging"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
)

// Config holds Supabase connection configuration
type Config struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration // Default: 5 minutes
	Logger   *logging.Logger
}

// Client implements Backend using Supabase
type Client struct {
	client   *supabase.Client
	cache    *cache
	cacheTTL time.Duration
	logger   *logging.Logger
}

// cache holds rarely changing lookups (user roles) for cacheTTL.
type cache struct {
	mu    sync.RWMutex
	roles map[string]*cacheEntry[console.UserRole]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// New creates a new Supabase client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: supabase URL is required", console.ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: supabase API key is required", console.ErrInvalidConfig)
	}

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:   client,
		cacheTTL: cfg.CacheTTL,
		logger:   logging.OrNop(cfg.Logger).Named("supabase"),
		cache: &cache{
			roles: make(map[string]*cacheEntry[console.UserRole]),
		},
	}, nil
}

// SignIn implements Authenticator. The session token is applied to every
// subsequent table and function call.
func (c *Client) SignIn(ctx context.Context, email, password string) (*console.AuthSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.client.Auth.SignInWithEmailPassword(email, password)
	if err != nil {
		observe("sign_in", err)
		return nil, fmt.Errorf("%w: sign in: %v", console.ErrUnauthenticated, err)
	}
	observe("sign_in", nil)
	c.client.UpdateAuthSession(resp.Session)

	return &console.AuthSession{
		UserID:       resp.User.ID.String(),
		Email:        resp.User.Email,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// SignOut implements Authenticator.
func (c *Client) SignOut(ctx context.Context) error {
	c.clearCache()
	err := c.client.Auth.Logout()
	observe("sign_out", err)
	if err != nil {
		return c.remoteErr(ctx, "sign out", err)
	}
	return nil
}

// ListSessions implements SessionTable.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]console.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sessions []console.Session
	_, err := c.client.From(tableSessions).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("last_accessed", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&sessions)
	observe("list_sessions", err)
	if err != nil {
		return nil, c.remoteErr(ctx, "list sessions", err)
	}
	return sessions, nil
}

// InsertSession implements SessionTable.
func (c *Client) InsertSession(ctx context.Context, session console.Session) (*console.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []console.Session
	_, err := c.client.From(tableSessions).
		Insert(session, false, "", "representation", "").
		ExecuteTo(&rows)
	observe("insert_session", err)
	if err != nil {
		return nil, c.remoteErr(ctx, "insert session", err)
	}
	if len(rows) == 0 {
		return &session, nil
	}
	return &rows[0], nil
}

// UpdateSession implements SessionTable.
func (c *Client) UpdateSession(ctx context.Context, id string, update SessionUpdate) error {
	values := sessionUpdateValues(update)
	if len(values) == 0 {
		return nil
	}
	return c.update(ctx, tableSessions, "update_session", id, values)
}

// DeleteSession implements SessionTable.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.delete(ctx, tableSessions, "delete_session", id)
}

// ListMessages implements MessageTable.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]console.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var messages []console.Message
	_, err := c.client.From(tableMessages).
		Select("*", "", false).
		Eq("conversation_id", sessionID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&messages)
	observe("list_messages", err)
	if err != nil {
		return nil, c.remoteErr(ctx, "list messages", err)
	}
	return messages, nil
}

// InsertMessage implements MessageTable.
func (c *Client) InsertMessage(ctx context.Context, msg console.Message) (*console.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []console.Message
	_, err := c.client.From(tableMessages).
		Insert(msg, false, "", "representation", "").
		ExecuteTo(&rows)
	observe("insert_message", err)
	if err != nil {
		return nil, c.remoteErr(ctx, "insert message", err)
	}
	if len(rows) == 0 {
		return &msg, nil
	}
	return &rows[0], nil
}

// ListConfigurations implements ConfigurationTable.
func (c *Client) ListConfigurations(ctx context.Context, userID string) ([]console.APIConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var configs []console.APIConfiguration
	_, err := c.client.From(tableConfigurations).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("memorable_name", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&configs)
	observe("list_configurations", err)
	if err != nil {
		return nil, c.remoteErr(ctx, "list configurations", err)
	}
	return configs, nil
}

// InsertConfiguration implements ConfigurationTable.
func (c *Client) InsertConfiguration(ctx context.Context, cfg console.APIConfiguration) (*console.APIConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []console.APIConfiguration
	_, err := c.client.From(tableConfigurations).
		Insert(cfg, false, "", "representation", "").
		ExecuteTo(&rows)
	observe("insert_configuration", err)
	if err != nil {
		return nil, c.remoteErr(ctx, "insert configuration", err)
	}
	if len(rows) == 0 {
		return &cfg, nil
	}
	return &rows[0], nil
}

// UpdateConfiguration implements ConfigurationTable.
func (c *Client) UpdateConfiguration(ctx context.Context, id string, update ConfigurationUpdate) error {
	values := configurationUpdateValues(update)
	if len(values) == 0 {
		return nil
	}
	return c.update(ctx, tableConfigurations, "update_configuration", id, values)
}

// DeleteConfiguration implements ConfigurationTable.
func (c *Client) DeleteConfiguration(ctx context.Context, id string) error {
	return c.delete(ctx, tableConfigurations, "delete_configuration", id)
}

// ListLogs implements LogTable.
func (c *Client) ListLogs(ctx context.Context, filter LogFilter) ([]console.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := c.client.From(tableLogs).Select("*", "", false)
	if filter.Level != "" {
		q = q.Eq("level", string(filter.Level))
	}
	if filter.Since != nil {
		q = q.Gte("timestamp", filter.Since.UTC().Format(time.RFC3339))
	}
	q = q.Order("timestamp", &postgrest.OrderOpts{Ascending: false})
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit, "")
	}

	var entries []console.LogEntry
	_, err := q.ExecuteTo(&entries)
	observe("list_logs", err)
	if err != nil {
		return nil, c.remoteErr(ctx, "list logs", err)
	}
	return entries, nil
}

// ListGitHubConnections implements GitHubTable.
func (c *Client) ListGitHubConnections(ctx context.Context, userID string) ([]console.GitHubConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var conns []console.GitHubConnection
	_, err := c.client.From(tableGitHub).
		Select("id,username,avatar_url,default,status,scopes,token_expires_at", "", false).
		Eq("user_id", userID).
		ExecuteTo(&conns)
	observe("list_github_connections", err)
	if err != nil {
		return nil, c.remoteErr(ctx, "list github connections", err)
	}
	return conns, nil
}

// SetDefaultGitHubConnection implements GitHubTable.
func (c *Client) SetDefaultGitHubConnection(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := c.client.From(tableGitHub).
		Update(map[string]any{"default": false}, "minimal", "").
		Eq("user_id", userID).
		Execute()
	if err == nil {
		_, _, err = c.client.From(tableGitHub).
			Update(map[string]any{"default": true}, "minimal", "").
			Eq("id", id).
			Eq("user_id", userID).
			Execute()
	}
	observe("set_default_github_connection", err)
	if err != nil {
		return c.remoteErr(ctx, "set default github connection", err)
	}
	return nil
}

// ragTierRow is the flat column layout of the rag_tiers table.
type ragTierRow struct {
	Tier            console.Tier `json:"tier"`
	VectorCount     int          `json:"vector_count"`
	StorageUsed     int64        `json:"storage_used"`
	MaxVectors      int          `json:"max_vectors"`
	MaxStorageBytes int64        `json:"max_storage_bytes"`
}

// GetRAGTier implements RAGTable. Users without a row are on the standard tier.
func (c *Client) GetRAGTier(ctx context.Context, userID string) (*console.RAGTierState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []ragTierRow
	_, err := c.client.From(tableRAGTiers).
		Select("*", "", false).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	observe("get_rag_tier", err)
	if err != nil {
		return nil, c.remoteErr(ctx, "get rag tier", err)
	}
	if len(rows) == 0 {
		return &console.RAGTierState{Tier: console.TierStandard}, nil
	}
	row := rows[0]
	return &console.RAGTierState{
		Tier:        row.Tier,
		VectorCount: row.VectorCount,
		StorageUsed: row.StorageUsed,
		Limits: console.RAGLimits{
			MaxVectors:      row.MaxVectors,
			MaxStorageBytes: row.MaxStorageBytes,
		},
	}, nil
}

// ListProjectDocuments implements RAGTable.
func (c *Client) ListProjectDocuments(ctx context.Context, projectID string) ([]console.ProjectDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var docs []console.ProjectDocument
	_, err := c.client.From(tableProjectDocs).
		Select("*", "", false).
		Eq("project_id", projectID).
		ExecuteTo(&docs)
	observe("list_project_documents", err)
	if err != nil {
		return nil, c.remoteErr(ctx, "list project documents", err)
	}
	return docs, nil
}

// GetUserRole implements RoleTable. Users without a role row are plain users.
func (c *Client) GetUserRole(ctx context.Context, userID string) (console.UserRole, error) {
	if role, ok := c.getRoleFromCache(userID); ok {
		return role, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var rows []struct {
		Role console.UserRole `json:"role"`
	}
	_, err := c.client.From(tableUserRoles).
		Select("role", "", false).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	observe("get_user_role", err)
	if err != nil {
		return "", c.remoteErr(ctx, "get user role", err)
	}

	role := console.RoleNameUser
	if len(rows) > 0 && rows[0].Role != "" {
		role = rows[0].Role
	}
	c.addRoleToCache(userID, role)
	return role, nil
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	c.clearCache()
	return nil
}

func (c *Client) update(ctx context.Context, table, op, id string, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := c.client.From(table).
		Update(values, "minimal", "").
		Eq("id", id).
		Execute()
	observe(op, err)
	if err != nil {
		return c.remoteErr(ctx, op, err)
	}
	return nil
}

func (c *Client) delete(ctx context.Context, table, op, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := c.client.From(table).
		Delete("minimal", "").
		Eq("id", id).
		Execute()
	observe(op, err)
	if err != nil {
		return c.remoteErr(ctx, op, err)
	}
	return nil
}

func (c *Client) remoteErr(ctx context.Context, op string, err error) error {
	c.logger.Debug(ctx, "supabase call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", console.ErrRemote, op, err)
}

func (c *Client) getRoleFromCache(userID string) (console.UserRole, bool) {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()

	if e, ok := c.cache.roles[userID]; ok && time.Now().Before(e.expiresAt) {
		return e.value, true
	}
	return "", false
}

func (c *Client) addRoleToCache(userID string, role console.UserRole) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	c.cache.roles[userID] = &cacheEntry[console.UserRole]{
		value:     role,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
}

func (c *Client) clearCache() {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	c.cache.roles = make(map[string]*cacheEntry[console.UserRole])
}

func sessionUpdateValues(u SessionUpdate) map[string]any {
	values := make(map[string]any)
	if u.Title != nil {
		values["title"] = *u.Title
	}
	if u.LastAccessed != nil {
		values["last_accessed"] = u.LastAccessed.UTC()
	}
	if u.Archived != nil {
		values["archived"] = *u.Archived
	}
	if u.TokensUsed != nil {
		values["tokens_used"] = *u.TokensUsed
	}
	if u.MessageCount != nil {
		values["message_count"] = *u.MessageCount
	}
	return values
}

func configurationUpdateValues(u ConfigurationUpdate) map[string]any {
	values := make(map[string]any)
	if u.MemorableName != nil {
		values["memorable_name"] = *u.MemorableName
	}
	if u.SecretKeyName != nil {
		values["secret_key_name"] = *u.SecretKeyName
	}
	if u.IsEnabled != nil {
		values["is_enabled"] = *u.IsEnabled
	}
	if u.IsDefault != nil {
		values["is_default"] = *u.IsDefault
	}
	if u.ValidationStatus != nil {
		values["validation_status"] = string(*u.ValidationStatus)
	}
	if u.ProviderSettings != nil {
		values["provider_settings"] = u.ProviderSettings
	}
	return values
}

// Compile-time check that Client implements Backend
var _ Backend = (*Client)(nil)
