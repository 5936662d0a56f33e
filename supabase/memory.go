package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/creastat/console"
	"github.com/google/uuid"
)

type memoryUser struct {
	id       string
	password string
}

// MemoryStore is an in-process Backend used by tests and offline runs.
// Failures can be injected per operation with SetError.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]console.Session
	messages  map[string][]console.Message
	configs   map[string]console.APIConfiguration
	logs      []console.LogEntry
	github    map[string][]console.GitHubConnection
	tiers     map[string]console.RAGTierState
	docs      map[string][]console.ProjectDocument
	roles     map[string]console.UserRole
	users     map[string]memoryUser
	functions map[string]FunctionHandler
	failures  map[string]error
	calls     map[string]int
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]console.Session),
		messages:  make(map[string][]console.Message),
		configs:   make(map[string]console.APIConfiguration),
		github:    make(map[string][]console.GitHubConnection),
		tiers:     make(map[string]console.RAGTierState),
		docs:      make(map[string][]console.ProjectDocument),
		roles:     make(map[string]console.UserRole),
		users:     make(map[string]memoryUser),
		functions: make(map[string]FunctionHandler),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// SetError makes every later call to op fail with err. op is the method name
// (for example "InsertMessage") or an Edge Function name. A nil err clears it.
func (m *MemoryStore) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op has been invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// HandleFunction registers an Edge Function implementation.
func (m *MemoryStore) HandleFunction(name string, fn FunctionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.functions[name] = fn
}

// AddUser registers credentials accepted by SignIn.
func (m *MemoryStore) AddUser(email, password, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[email] = memoryUser{id: userID, password: password}
}

// SetRole sets the role row of a user.
func (m *MemoryStore) SetRole(userID string, role console.UserRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[userID] = role
}

// SetRAGTier sets the tier row of a user.
func (m *MemoryStore) SetRAGTier(userID string, state console.RAGTierState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[userID] = state
}

// AddLogs appends system log rows.
func (m *MemoryStore) AddLogs(entries ...console.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entries...)
}

// AddProjectDocuments appends indexable documents.
func (m *MemoryStore) AddProjectDocuments(docs ...console.ProjectDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.docs[d.ProjectID] = append(m.docs[d.ProjectID], d)
	}
}

// AddGitHubConnection links an account to a user.
func (m *MemoryStore) AddGitHubConnection(userID string, conn console.GitHubConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.github[userID] = append(m.github[userID], conn)
}

// Session returns the stored session row.
func (m *MemoryStore) Session(id string) (console.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Configuration returns the stored configuration row.
func (m *MemoryStore) Configuration(id string) (console.APIConfiguration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[id]
	return c, ok
}

// begin records the call and returns any injected failure. Callers hold m.mu.
func (m *MemoryStore) begin(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := m.failures[op]; ok {
		return fmt.Errorf("%w: %s: %w", console.ErrRemote, op, err)
	}
	return nil
}

// SignIn implements Authenticator.
func (m *MemoryStore) SignIn(ctx context.Context, email, password string) (*console.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "SignIn"); err != nil {
		return nil, err
	}
	u, ok := m.users[email]
	if !ok || u.password != password {
		return nil, fmt.Errorf("%w: invalid login credentials", console.ErrUnauthenticated)
	}
	return &console.AuthSession{
		UserID:      u.id,
		Email:       email,
		AccessToken: uuid.NewString(),
	}, nil
}

// SignOut implements Authenticator.
func (m *MemoryStore) SignOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(ctx, "SignOut")
}

// ListSessions implements SessionTable.
func (m *MemoryStore) ListSessions(ctx context.Context, userID string) ([]console.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "ListSessions"); err != nil {
		return nil, err
	}
	var out []console.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	return out, nil
}

// InsertSession implements SessionTable.
func (m *MemoryStore) InsertSession(ctx context.Context, session console.Session) (*console.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "InsertSession"); err != nil {
		return nil, err
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	m.sessions[session.ID] = session
	return &session, nil
}

// UpdateSession implements SessionTable.
func (m *MemoryStore) UpdateSession(ctx context.Context, id string, update SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "UpdateSession"); err != nil {
		return err
	}
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, console.ErrNotFound)
	}
	if update.Title != nil {
		s.Title = *update.Title
	}
	if update.LastAccessed != nil {
		s.LastAccessed = *update.LastAccessed
	}
	if update.Archived != nil {
		s.Archived = *update.Archived
	}
	if update.TokensUsed != nil {
		s.TokensUsed = *update.TokensUsed
	}
	if update.MessageCount != nil {
		s.MessageCount = *update.MessageCount
	}
	m.sessions[id] = s
	return nil
}

// DeleteSession implements SessionTable.
func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "DeleteSession"); err != nil {
		return err
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

// ListMessages implements MessageTable.
func (m *MemoryStore) ListMessages(ctx context.Context, sessionID string) ([]console.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "ListMessages"); err != nil {
		return nil, err
	}
	return slices.Clone(m.messages[sessionID]), nil
}

// InsertMessage implements MessageTable.
func (m *MemoryStore) InsertMessage(ctx context.Context, msg console.Message) (*console.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "InsertMessage"); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return &msg, nil
}

// ListConfigurations implements ConfigurationTable.
func (m *MemoryStore) ListConfigurations(ctx context.Context, userID string) ([]console.APIConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "ListConfigurations"); err != nil {
		return nil, err
	}
	var out []console.APIConfiguration
	for _, c := range m.configs {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MemorableName < out[j].MemorableName
	})
	return out, nil
}

// InsertConfiguration implements ConfigurationTable.
func (m *MemoryStore) InsertConfiguration(ctx context.Context, cfg console.APIConfiguration) (*console.APIConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "InsertConfiguration"); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	m.configs[cfg.ID] = cfg
	return &cfg, nil
}

// UpdateConfiguration implements ConfigurationTable.
func (m *MemoryStore) UpdateConfiguration(ctx context.Context, id string, update ConfigurationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "UpdateConfiguration"); err != nil {
		return err
	}
	c, ok := m.configs[id]
	if !ok {
		return fmt.Errorf("configuration %s: %w", id, console.ErrNotFound)
	}
	if update.MemorableName != nil {
		c.MemorableName = *update.MemorableName
	}
	if update.SecretKeyName != nil {
		c.SecretKeyName = *update.SecretKeyName
	}
	if update.IsEnabled != nil {
		c.IsEnabled = *update.IsEnabled
	}
	if update.IsDefault != nil {
		c.IsDefault = *update.IsDefault
	}
	if update.ValidationStatus != nil {
		c.ValidationStatus = *update.ValidationStatus
	}
	if update.ProviderSettings != nil {
		c.ProviderSettings = update.ProviderSettings
	}
	m.configs[id] = c
	return nil
}

// DeleteConfiguration implements ConfigurationTable.
func (m *MemoryStore) DeleteConfiguration(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "DeleteConfiguration"); err != nil {
		return err
	}
	delete(m.configs, id)
	return nil
}

// ListLogs implements LogTable.
func (m *MemoryStore) ListLogs(ctx context.Context, filter LogFilter) ([]console.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "ListLogs"); err != nil {
		return nil, err
	}
	var out []console.LogEntry
	for _, e := range m.logs {
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListGitHubConnections implements GitHubTable.
func (m *MemoryStore) ListGitHubConnections(ctx context.Context, userID string) ([]console.GitHubConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "ListGitHubConnections"); err != nil {
		return nil, err
	}
	return slices.Clone(m.github[userID]), nil
}

// SetDefaultGitHubConnection implements GitHubTable.
func (m *MemoryStore) SetDefaultGitHubConnection(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "SetDefaultGitHubConnection"); err != nil {
		return err
	}
	conns := m.github[userID]
	if !slices.ContainsFunc(conns, func(c console.GitHubConnection) bool { return c.ID == id }) {
		return fmt.Errorf("github connection %s: %w", id, console.ErrNotFound)
	}
	for i := range conns {
		conns[i].Default = conns[i].ID == id
	}
	return nil
}

// GetRAGTier implements RAGTable.
func (m *MemoryStore) GetRAGTier(ctx context.Context, userID string) (*console.RAGTierState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "GetRAGTier"); err != nil {
		return nil, err
	}
	state, ok := m.tiers[userID]
	if !ok {
		state = console.RAGTierState{Tier: console.TierStandard}
	}
	return &state, nil
}

// ListProjectDocuments implements RAGTable.
func (m *MemoryStore) ListProjectDocuments(ctx context.Context, projectID string) ([]console.ProjectDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "ListProjectDocuments"); err != nil {
		return nil, err
	}
	return slices.Clone(m.docs[projectID]), nil
}

// GetUserRole implements RoleTable.
func (m *MemoryStore) GetUserRole(ctx context.Context, userID string) (console.UserRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "GetUserRole"); err != nil {
		return "", err
	}
	if role, ok := m.roles[userID]; ok {
		return role, nil
	}
	return console.RoleNameUser, nil
}

// Invoke implements Functions. The handler result goes through the same
// response decoding as the real client.
func (m *MemoryStore) Invoke(ctx context.Context, name string, body any, out any) error {
	m.mu.Lock()
	err := m.begin(ctx, name)
	fn, ok := m.functions[name]
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: function %s not found", console.ErrRemote, name)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %s: encode body: %v", console.ErrValidation, name, err)
	}
	res, err := fn(ctx, payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", console.ErrRemote, name, err)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("%w: %s: encode response: %v", console.ErrRemote, name, err)
	}
	return decodeResponse(name, raw, out)
}

// Close implements Backend.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Backend = (*MemoryStore)(nil)
