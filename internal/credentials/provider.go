// Package credentials выдаёт секреты внешних API с явной политикой кэширования.
package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

// Provider возвращает актуальный секрет. Invalidate сбрасывает кэш, и следующий
// Token перечитает секрет из источника.
type Provider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Resolver читает секрет из источника без кэширования.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// ResolverFunc адаптирует функцию к Resolver.
type ResolverFunc func(ctx context.Context) (string, error)

// Resolve вызывает f.
func (f ResolverFunc) Resolve(ctx context.Context) (string, error) {
	return f(ctx)
}

// CachedProvider кэширует результат Resolver.
//
// TTL:
//   - 0: секрет живёт до явного Invalidate;
//   - >0: секрет перечитывается по истечении TTL;
//   - <0: секрет перечитывается на каждый вызов.
type CachedProvider struct {
	resolver Resolver
	ttl      time.Duration
	now      func() time.Time
	logger   *log.Entry
	name     string

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// Option настраивает CachedProvider.
type Option func(*CachedProvider)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(p *CachedProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(p *CachedProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithName задаёт имя секрета для логов и ошибок.
func WithName(name string) Option {
	return func(p *CachedProvider) {
		if name != "" {
			p.name = name
		}
	}
}

// NewCachedProvider создаёт кэширующий провайдер поверх resolver.
func NewCachedProvider(resolver Resolver, ttl time.Duration, opts ...Option) *CachedProvider {
	p := &CachedProvider{
		resolver: resolver,
		ttl:      ttl,
		now:      time.Now,
		logger:   log.WithField("component", "credentials"),
		name:     "secret",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token возвращает кэшированный секрет или перечитывает его из источника.
func (p *CachedProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fresh() {
		return p.token, nil
	}

	token, err := p.resolver.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrCredentialsUnavailable, p.name, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: %s is empty", domain.ErrCredentialsUnavailable, p.name)
	}

	p.token = token
	p.fetchedAt = p.now()
	p.logger.WithField("credential", p.name).Debug("credential resolved")

	return token, nil
}

// Invalidate сбрасывает кэш.
func (p *CachedProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" {
		p.logger.WithField("credential", p.name).Info("credential invalidated")
	}
	p.token = ""
	p.fetchedAt = time.Time{}
}

func (p *CachedProvider) fresh() bool {
	if p.token == "" || p.ttl < 0 {
		return false
	}
	if p.ttl == 0 {
		return true
	}
	return p.now().Sub(p.fetchedAt) < p.ttl
}

var _ Provider = (*CachedProvider)(nil)
