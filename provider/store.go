// Package provider manages named LLM provider configurations.
//
// Secret values are handed to the store-secret Edge Function and never kept
// locally; a configuration only carries the returned secret key name.
package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/creastat/console"
	"github.com/creastat/console/access"
	"github.com/creastat/console/auth"
	"github.com/creastat/console/logging"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/supabase"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	fnStoreSecret    = "store-secret"
	fnDeleteSecret   = "delete-secret"
	fnTestConnection = "test-connection"

	defaultValidationRate  = 1.0
	defaultValidationBurst = 3
)

// CreateOptions describes a new configuration.
type CreateOptions struct {
	MemorableName    string
	Secret           string
	IsDefault        bool
	Disabled         bool
	ProviderSettings map[string]any
}

// Updates carries optional changes. A non-empty Secret rotates the stored
// secret and resets the validation status.
type Updates struct {
	MemorableName    *string
	Secret           *string
	IsEnabled        *bool
	IsDefault        *bool
	ProviderSettings map[string]any
}

// Store holds the user's provider configurations.
type Store struct {
	table     supabase.ConfigurationTable
	functions supabase.Functions
	checker   access.Checker
	identity  auth.Source
	limiter   *rate.Limiter
	notifier  notify.Notifier
	logger    *logging.Logger

	mu      sync.RWMutex
	configs []console.APIConfiguration
}

// Option configures a Store.
type Option func(*Store)

// WithValidationRate throttles Validate calls.
func WithValidationRate(perSecond float64, burst int) Option {
	return func(s *Store) {
		if perSecond > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithNotifier sets where user-facing failures are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a provider store. Mutations are gated by checker.
func New(table supabase.ConfigurationTable, functions supabase.Functions, checker access.Checker, identity auth.Source, opts ...Option) *Store {
	s := &Store{
		table:     table,
		functions: functions,
		checker:   checker,
		identity:  identity,
		limiter:   rate.NewLimiter(rate.Limit(defaultValidationRate), defaultValidationBurst),
		notifier:  notify.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("provider")
	return s
}

// Load fetches the user's configurations.
func (s *Store) Load(ctx context.Context) error {
	userID, err := s.identity.UserID()
	if err != nil {
		return err
	}
	configs, err := s.table.ListConfigurations(ctx, userID)
	if err != nil {
		return s.fail(ctx, "Could not load providers", "load configurations", err)
	}
	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()
	return nil
}

// Create stores the secret server-side and persists a new configuration.
func (s *Store) Create(ctx context.Context, apiType console.APIType, opts CreateOptions) (console.APIConfiguration, error) {
	if err := s.checker.Require(ctx, access.CapManageProviders); err != nil {
		return console.APIConfiguration{}, err
	}
	name := strings.TrimSpace(opts.MemorableName)
	switch {
	case !apiType.Valid():
		return console.APIConfiguration{}, fmt.Errorf("%w: unsupported provider %q", console.ErrValidation, apiType)
	case name == "":
		return console.APIConfiguration{}, fmt.Errorf("%w: memorable name is required", console.ErrValidation)
	case strings.TrimSpace(opts.Secret) == "":
		return console.APIConfiguration{}, fmt.Errorf("%w: API key is required", console.ErrValidation)
	}
	userID, err := s.identity.UserID()
	if err != nil {
		return console.APIConfiguration{}, err
	}

	keyName, err := s.storeSecret(ctx, apiType, name, "", opts.Secret)
	if err != nil {
		return console.APIConfiguration{}, s.fail(ctx, "Could not save API key", "store secret", err)
	}

	cfg := console.APIConfiguration{
		UserID:           userID,
		APIType:          apiType,
		MemorableName:    name,
		SecretKeyName:    keyName,
		IsEnabled:        !opts.Disabled,
		IsDefault:        opts.IsDefault,
		ValidationStatus: console.ValidationUnverified,
		ProviderSettings: opts.ProviderSettings,
	}
	stored, err := s.table.InsertConfiguration(ctx, cfg)
	if err != nil {
		s.deleteSecret(ctx, keyName)
		return console.APIConfiguration{}, s.fail(ctx, "Could not save provider", "create configuration", err)
	}

	s.mu.Lock()
	s.configs = append(s.configs, *stored)
	s.mu.Unlock()

	if stored.IsDefault {
		s.clearOtherDefaults(ctx, *stored)
	}
	s.logger.Info(ctx, "provider configuration created",
		zap.String("config_id", stored.ID),
		zap.String("api_type", string(apiType)))
	return *stored, nil
}

// Update applies updates to a configuration.
func (s *Store) Update(ctx context.Context, id string, updates Updates) error {
	if err := s.checker.Require(ctx, access.CapManageProviders); err != nil {
		return err
	}
	current, ok := s.get(id)
	if !ok {
		return fmt.Errorf("configuration %s: %w", id, console.ErrNotFound)
	}

	var change supabase.ConfigurationUpdate
	if updates.MemorableName != nil {
		name := strings.TrimSpace(*updates.MemorableName)
		if name == "" {
			return fmt.Errorf("%w: memorable name is required", console.ErrValidation)
		}
		change.MemorableName = &name
	}
	if updates.Secret != nil {
		if strings.TrimSpace(*updates.Secret) == "" {
			return fmt.Errorf("%w: API key is required", console.ErrValidation)
		}
		keyName, err := s.storeSecret(ctx, current.APIType, current.MemorableName, current.SecretKeyName, *updates.Secret)
		if err != nil {
			return s.fail(ctx, "Could not save API key", "store secret", err)
		}
		unverified := console.ValidationUnverified
		change.SecretKeyName = &keyName
		change.ValidationStatus = &unverified
	}
	change.IsEnabled = updates.IsEnabled
	change.IsDefault = updates.IsDefault
	change.ProviderSettings = updates.ProviderSettings

	if err := s.table.UpdateConfiguration(ctx, id, change); err != nil {
		return s.fail(ctx, "Could not update provider", "update configuration", err)
	}

	updated := s.apply(id, change)
	if updates.IsDefault != nil && *updates.IsDefault {
		s.clearOtherDefaults(ctx, updated)
	}
	return nil
}

// Delete removes a configuration and, best-effort, its stored secret.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.checker.Require(ctx, access.CapManageProviders); err != nil {
		return err
	}
	current, ok := s.get(id)
	if !ok {
		return fmt.Errorf("configuration %s: %w", id, console.ErrNotFound)
	}
	if err := s.table.DeleteConfiguration(ctx, id); err != nil {
		return s.fail(ctx, "Could not delete provider", "delete configuration", err)
	}

	s.mu.Lock()
	s.configs = slices.DeleteFunc(s.configs, func(c console.APIConfiguration) bool { return c.ID == id })
	s.mu.Unlock()

	s.deleteSecret(ctx, current.SecretKeyName)
	return nil
}

// Validate tests the configuration through the test-connection function and
// writes the outcome back best-effort. A failed call yields ValidationError.
func (s *Store) Validate(ctx context.Context, cfg console.APIConfiguration) (console.ValidationStatus, error) {
	if !cfg.APIType.Valid() {
		return console.ValidationError, fmt.Errorf("%w: unsupported provider %q", console.ErrValidation, cfg.APIType)
	}
	if cfg.SecretKeyName == "" {
		return console.ValidationError, fmt.Errorf("%w: configuration has no stored key", console.ErrValidation)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return console.ValidationError, fmt.Errorf("validation throttled: %w", err)
	}

	body := map[string]any{
		"api_type":          cfg.APIType,
		"secret_key_name":   cfg.SecretKeyName,
		"provider_settings": cfg.ProviderSettings,
	}
	var out struct {
		Valid   bool   `json:"valid"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}

	status := console.ValidationError
	err := s.functions.Invoke(ctx, fnTestConnection, body, &out)
	if err == nil {
		status = validationStatus(out.Valid, out.Status)
	} else {
		s.logger.Warn(ctx, "connection test failed", zap.String("config_id", cfg.ID), zap.Error(err))
		notify.Error(ctx, s.notifier, "Connection test failed", err)
	}

	if cfg.ID != "" {
		if werr := s.table.UpdateConfiguration(ctx, cfg.ID, supabase.ConfigurationUpdate{ValidationStatus: &status}); werr != nil {
			s.logger.Warn(ctx, "failed to record validation status", zap.String("config_id", cfg.ID), zap.Error(werr))
		} else {
			s.apply(cfg.ID, supabase.ConfigurationUpdate{ValidationStatus: &status})
		}
	}

	if err != nil {
		return status, fmt.Errorf("validate %s: %w", cfg.APIType, err)
	}
	return status, nil
}

// Configurations returns a snapshot of the loaded configurations.
func (s *Store) Configurations() []console.APIConfiguration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.configs)
}

// Get returns a configuration by id.
func (s *Store) Get(id string) (console.APIConfiguration, bool) {
	return s.get(id)
}

// Default returns the enabled default configuration for apiType.
func (s *Store) Default(apiType console.APIType) (console.APIConfiguration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.configs {
		if c.APIType == apiType && c.IsDefault && c.IsEnabled {
			return c, true
		}
	}
	return console.APIConfiguration{}, false
}

// Reset drops local state. Used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = nil
}

func (s *Store) storeSecret(ctx context.Context, apiType console.APIType, name, existingKey, secret string) (string, error) {
	body := map[string]any{
		"api_type":       apiType,
		"memorable_name": name,
		"secret":         secret,
	}
	if existingKey != "" {
		body["secret_key_name"] = existingKey
	}
	var out struct {
		SecretKeyName string `json:"secret_key_name"`
	}
	if err := s.functions.Invoke(ctx, fnStoreSecret, body, &out); err != nil {
		return "", err
	}
	if out.SecretKeyName == "" {
		return "", fmt.Errorf("%w: %s returned no key name", console.ErrRemote, fnStoreSecret)
	}
	return out.SecretKeyName, nil
}

func (s *Store) deleteSecret(ctx context.Context, keyName string) {
	if keyName == "" {
		return
	}
	if err := s.functions.Invoke(ctx, fnDeleteSecret, map[string]any{"secret_key_name": keyName}, nil); err != nil {
		s.logger.Warn(ctx, "failed to delete stored secret", zap.String("secret_key_name", keyName), zap.Error(err))
	}
}

// clearOtherDefaults unsets the default flag on other configs of the same type.
func (s *Store) clearOtherDefaults(ctx context.Context, def console.APIConfiguration) {
	s.mu.RLock()
	var others []string
	for _, c := range s.configs {
		if c.ID != def.ID && c.APIType == def.APIType && c.IsDefault {
			others = append(others, c.ID)
		}
	}
	s.mu.RUnlock()

	off := false
	for _, id := range others {
		change := supabase.ConfigurationUpdate{IsDefault: &off}
		if err := s.table.UpdateConfiguration(ctx, id, change); err != nil {
			s.logger.Warn(ctx, "failed to clear previous default", zap.String("config_id", id), zap.Error(err))
			continue
		}
		s.apply(id, change)
	}
}

func (s *Store) apply(id string, change supabase.ConfigurationUpdate) console.APIConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.configs, func(c console.APIConfiguration) bool { return c.ID == id })
	if i < 0 {
		return console.APIConfiguration{}
	}
	c := &s.configs[i]
	if change.MemorableName != nil {
		c.MemorableName = *change.MemorableName
	}
	if change.SecretKeyName != nil {
		c.SecretKeyName = *change.SecretKeyName
	}
	if change.IsEnabled != nil {
		c.IsEnabled = *change.IsEnabled
	}
	if change.IsDefault != nil {
		c.IsDefault = *change.IsDefault
	}
	if change.ValidationStatus != nil {
		c.ValidationStatus = *change.ValidationStatus
	}
	if change.ProviderSettings != nil {
		c.ProviderSettings = change.ProviderSettings
	}
	return *c
}

func (s *Store) get(id string) (console.APIConfiguration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.configs {
		if c.ID == id {
			return c, true
		}
	}
	return console.APIConfiguration{}, false
}

func (s *Store) fail(ctx context.Context, title, op string, err error) error {
	s.logger.Error(ctx, op+" failed", zap.Error(err))
	notify.Error(ctx, s.notifier, title, err)
	return fmt.Errorf("%s: %w", op, err)
}

func validationStatus(valid bool, status string) console.ValidationStatus {
	switch console.ValidationStatus(status) {
	case console.ValidationValid, console.ValidationInvalid, console.ValidationError:
		return console.ValidationStatus(status)
	}
	if valid {
		return console.ValidationValid
	}
	return console.ValidationInvalid
}
