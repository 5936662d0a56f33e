// Package github links GitHub accounts through a server-side OAuth exchange.
//
// Connect drives the handshake as an explicit event: it hands the authorize
// URL to an Opener and waits for Complete, which the callback server calls
// when GitHub redirects back. Tokens never reach the client; the Edge
// Functions exchange and store them.
package github

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/creastat/console"
	"github.com/creastat/console/auth"
	"github.com/creastat/console/logging"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/supabase"
	gh "github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	oauth2github "golang.org/x/oauth2/github"
)

const (
	fnExchange   = "github-oauth-exchange"
	fnStatus     = "github-status"
	fnRefresh    = "github-token-refresh"
	fnDisconnect = "github-disconnect"
)

var errAbandoned = fmt.Errorf("%w: handshake abandoned by sign-out", console.ErrHandshake)

// Status is the connection state.
type Status string

const (
	StatusUnknown      Status = "unknown"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Opener presents the authorize URL to the user (browser, terminal).
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

func (f OpenerFunc) Open(ctx context.Context, url string) error { return f(ctx, url) }

// Config holds the OAuth client settings.
type Config struct {
	ClientID    string
	RedirectURL string
	Scopes      []string
}

type completion struct {
	code string
	err  error
}

type handshake struct {
	verifier string
	done     chan completion
}

// Integration is the GitHub connection state of the signed-in user.
type Integration struct {
	functions supabase.Functions
	table     supabase.GitHubTable
	identity  auth.Source
	opener    Opener
	oauth     *oauth2.Config
	notifier  notify.Notifier
	logger    *logging.Logger

	mu       sync.RWMutex
	status   Status
	accounts []console.GitHubConnection
	pending  map[string]*handshake
}

// Option configures an Integration.
type Option func(*Integration)

// WithNotifier sets where user-facing failures are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(i *Integration) { i.notifier = n }
}

// WithLogger sets the integration logger.
func WithLogger(l *logging.Logger) Option {
	return func(i *Integration) { i.logger = l }
}

// WithEndpoint overrides the GitHub OAuth endpoint.
func WithEndpoint(e oauth2.Endpoint) Option {
	return func(i *Integration) { i.oauth.Endpoint = e }
}

// New creates an Integration in the unknown state.
func New(cfg Config, functions supabase.Functions, table supabase.GitHubTable, identity auth.Source, opener Opener, opts ...Option) *Integration {
	i := &Integration{
		functions: functions,
		table:     table,
		identity:  identity,
		opener:    opener,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
			Endpoint:    oauth2github.Endpoint,
		},
		notifier: notify.Nop{},
		status:   StatusUnknown,
		pending:  make(map[string]*handshake),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = logging.OrNop(i.logger).Named("github")
	return i
}

// Connect runs the OAuth handshake and blocks until Complete is called for
// its state or ctx ends.
func (i *Integration) Connect(ctx context.Context) error {
	if _, err := i.identity.UserID(); err != nil {
		return err
	}
	if i.oauth.ClientID == "" {
		return fmt.Errorf("%w: github client id is not configured", console.ErrInvalidConfig)
	}

	state := uuid.NewString()
	hs := &handshake{
		verifier: oauth2.GenerateVerifier(),
		done:     make(chan completion, 1),
	}

	i.mu.Lock()
	if len(i.pending) > 0 {
		i.mu.Unlock()
		return fmt.Errorf("%w: a connection attempt is already in progress", console.ErrHandshake)
	}
	i.status = StatusConnecting
	i.pending[state] = hs
	i.mu.Unlock()
	defer i.forget(state)

	url := i.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(hs.verifier))
	if err := i.opener.Open(ctx, url); err != nil {
		return i.handshakeFailed(ctx, state, fmt.Errorf("%w: open authorize url: %v", console.ErrHandshake, err))
	}
	i.logger.Info(ctx, "waiting for github authorization")

	var c completion
	select {
	case c = <-hs.done:
	case <-ctx.Done():
		return i.handshakeFailed(ctx, state, ctx.Err())
	}
	if c.err != nil {
		return i.handshakeFailed(ctx, state, fmt.Errorf("%w: %v", console.ErrHandshake, c.err))
	}

	body := map[string]string{
		"code":          c.code,
		"state":         state,
		"code_verifier": hs.verifier,
		"redirect_uri":  i.oauth.RedirectURL,
	}
	if err := i.functions.Invoke(ctx, fnExchange, body, nil); err != nil {
		return i.handshakeFailed(ctx, state, fmt.Errorf("exchange code: %w", err))
	}
	if !i.owns(state) {
		return errAbandoned
	}

	status, err := i.CheckConnectionStatus(ctx)
	if err != nil {
		return err
	}
	if status != StatusConnected {
		return i.handshakeFailed(ctx, state,
			fmt.Errorf("%w: server did not report the account as connected", console.ErrHandshake))
	}
	notify.Success(ctx, i.notifier, "GitHub connected", "Your GitHub account is linked.")
	return nil
}

// Complete delivers the result of the authorization redirect for state.
func (i *Integration) Complete(state, code string, authErr error) error {
	i.mu.RLock()
	hs, ok := i.pending[state]
	i.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: unknown or expired state", console.ErrHandshake)
	}
	if authErr == nil && code == "" {
		authErr = fmt.Errorf("authorization code missing")
	}

	select {
	case hs.done <- completion{code: code, err: authErr}:
		return nil
	default:
		return fmt.Errorf("%w: handshake already completed", console.ErrHandshake)
	}
}

// statusResponse is the github-status function payload.
type statusResponse struct {
	Connected bool            `json:"connected"`
	Accounts  []statusAccount `json:"accounts"`
}

type statusAccount struct {
	ID             string     `json:"id"`
	Default        bool       `json:"default"`
	Status         string     `json:"status"`
	Scopes         []string   `json:"scopes"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	Profile        *gh.User   `json:"profile"`
}

func (a statusAccount) connection() console.GitHubConnection {
	return console.GitHubConnection{
		ID:             a.ID,
		Username:       a.Profile.GetLogin(),
		AvatarURL:      a.Profile.GetAvatarURL(),
		Default:        a.Default,
		Status:         a.Status,
		Scopes:         a.Scopes,
		TokenExpiresAt: a.TokenExpiresAt,
	}
}

// CheckConnectionStatus resynchronises with the server. Calling it
// repeatedly yields the same state for the same server state. While a
// handshake is pending the status stays connecting unless the server
// already reports the account as connected.
func (i *Integration) CheckConnectionStatus(ctx context.Context) (Status, error) {
	var resp statusResponse
	if err := i.functions.Invoke(ctx, fnStatus, nil, &resp); err != nil {
		i.setStatus(StatusError)
		i.logger.Error(ctx, "github status check failed", zap.Error(err))
		notify.Error(ctx, i.notifier, "Could not check GitHub connection", err)
		return StatusError, fmt.Errorf("check github status: %w", err)
	}

	accounts := make([]console.GitHubConnection, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		accounts = append(accounts, a.connection())
	}
	status := StatusDisconnected
	if resp.Connected && len(accounts) > 0 {
		status = StatusConnected
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.accounts = accounts
	if len(i.pending) > 0 && status != StatusConnected {
		status = StatusConnecting
	}
	i.status = status
	return status, nil
}

// Disconnect unlinks one account, or every account when accountID is empty.
func (i *Integration) Disconnect(ctx context.Context, accountID string) error {
	body := map[string]string{}
	if accountID != "" {
		body["account_id"] = accountID
	}
	if err := i.functions.Invoke(ctx, fnDisconnect, body, nil); err != nil {
		i.logger.Error(ctx, "github disconnect failed", zap.Error(err))
		notify.Error(ctx, i.notifier, "Could not disconnect GitHub", err)
		return fmt.Errorf("disconnect github: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if accountID == "" {
		i.accounts = nil
	} else {
		i.accounts = slices.DeleteFunc(i.accounts, func(a console.GitHubConnection) bool { return a.ID == accountID })
	}
	if len(i.accounts) == 0 {
		i.status = StatusDisconnected
	}
	return nil
}

// SetDefaultAccount marks id as the default account.
func (i *Integration) SetDefaultAccount(ctx context.Context, id string) error {
	userID, err := i.identity.UserID()
	if err != nil {
		return err
	}
	i.mu.RLock()
	known := slices.ContainsFunc(i.accounts, func(a console.GitHubConnection) bool { return a.ID == id })
	i.mu.RUnlock()
	if !known {
		return fmt.Errorf("github account %s: %w", id, console.ErrNotFound)
	}

	if err := i.table.SetDefaultGitHubConnection(ctx, userID, id); err != nil {
		notify.Error(ctx, i.notifier, "Could not change default account", err)
		return fmt.Errorf("set default github account: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	for k := range i.accounts {
		i.accounts[k].Default = i.accounts[k].ID == id
	}
	return nil
}

// RefreshToken asks the server to refresh an account's token.
func (i *Integration) RefreshToken(ctx context.Context, accountID string) error {
	var out struct {
		TokenExpiresAt *time.Time `json:"token_expires_at"`
	}
	if err := i.functions.Invoke(ctx, fnRefresh, map[string]string{"account_id": accountID}, &out); err != nil {
		i.logger.Warn(ctx, "github token refresh failed", zap.String("account_id", accountID), zap.Error(err))
		return fmt.Errorf("refresh github token: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	for k := range i.accounts {
		if i.accounts[k].ID == accountID {
			i.accounts[k].TokenExpiresAt = out.TokenExpiresAt
		}
	}
	return nil
}

// Status returns the connection state.
func (i *Integration) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// Accounts returns the linked accounts.
func (i *Integration) Accounts() []console.GitHubConnection {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Clone(i.accounts)
}

// DefaultAccount returns the default linked account.
func (i *Integration) DefaultAccount() (console.GitHubConnection, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, a := range i.accounts {
		if a.Default {
			return a, true
		}
	}
	return console.GitHubConnection{}, false
}

// Reset returns to the unknown state. Pending handshakes are abandoned.
func (i *Integration) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for state, hs := range i.pending {
		select {
		case hs.done <- completion{err: errAbandoned}:
		default:
		}
		delete(i.pending, state)
	}
	i.status = StatusUnknown
	i.accounts = nil
}

// handshakeFailed moves to the error state unless the handshake for state
// was abandoned by Reset, in which case the state is left alone.
func (i *Integration) handshakeFailed(ctx context.Context, state string, err error) error {
	i.mu.Lock()
	if _, ok := i.pending[state]; !ok {
		i.mu.Unlock()
		i.logger.Debug(ctx, "abandoned github handshake ended", zap.Error(err))
		return err
	}
	i.status = StatusError
	i.mu.Unlock()

	i.logger.Error(ctx, "github handshake failed", zap.Error(err))
	notify.Error(ctx, i.notifier, "GitHub connection failed", err)
	return err
}

func (i *Integration) owns(state string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.pending[state]
	return ok
}

func (i *Integration) forget(state string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.pending, state)
}

func (i *Integration) setStatus(s Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = s
}
