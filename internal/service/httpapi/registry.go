package httpapi

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordereditor/internal/metrics"
	"github.com/vladislavdragonenkov/ordereditor/internal/session"
)

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

var (
	// ErrSessionNotFound: сессии с таким handle нет (закрыта или вытеснена).
	ErrSessionNotFound = errors.New("edit session not found")
	// ErrSessionBusy: сессия занята другим запросом.
	ErrSessionBusy = errors.New("edit session is busy")
)

// RegistryOptions задает параметры реестра сессий.
type RegistryOptions struct {
	Logger        *log.Entry
	Metrics       *metrics.SessionMetrics
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// RegistryOption настраивает Registry.
type RegistryOption func(*RegistryOptions)

// WithRegistryLogger задает logger реестра.
func WithRegistryLogger(logger *log.Entry) RegistryOption {
	return func(opts *RegistryOptions) {
		opts.Logger = logger
	}
}

// WithRegistryMetrics подключает метрики сессий.
func WithRegistryMetrics(m *metrics.SessionMetrics) RegistryOption {
	return func(opts *RegistryOptions) {
		opts.Metrics = m
	}
}

// WithIdleTTL задает время простоя, после которого сессия вытесняется.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(opts *RegistryOptions) {
		opts.IdleTTL = ttl
	}
}

// WithSweepInterval задает интервал между проходами очистки.
func WithSweepInterval(interval time.Duration) RegistryOption {
	return func(opts *RegistryOptions) {
		opts.SweepInterval = interval
	}
}

// WithRegistryClock подменяет источник времени.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(opts *RegistryOptions) {
		opts.Now = now
	}
}

type registryEntry struct {
	// mu сериализует запросы к одной сессии.
	mu       sync.Mutex
	session  *session.Session
	lastUsed time.Time
}

// Registry хранит открытые сессии по непрозрачному handle.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*registryEntry
	logger   *log.Entry
	metrics  *metrics.SessionMetrics
	idleTTL  time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewRegistry создает пустой реестр.
func NewRegistry(options ...RegistryOption) *Registry {
	opts := RegistryOptions{
		IdleTTL:       defaultIdleTTL,
		SweepInterval: defaultSweepInterval,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "session-registry")
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		entries:  make(map[string]*registryEntry),
		logger:   logger,
		metrics:  opts.Metrics,
		idleTTL:  opts.IdleTTL,
		interval: opts.SweepInterval,
		now:      opts.Now,
	}
}

// Add регистрирует загруженную сессию под её ID.
func (r *Registry) Add(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[s.ID()]; !exists {
		r.metrics.SessionOpened()
	}
	r.entries[s.ID()] = &registryEntry{session: s, lastUsed: r.now()}
}

// Acquire захватывает сессию для одного запроса. Вызывающий обязан вызвать release.
// Если сессия уже занята, возвращается ErrSessionBusy без ожидания.
func (r *Registry) Acquire(id string) (*session.Session, func(), error) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	if !entry.mu.TryLock() {
		return nil, nil, ErrSessionBusy
	}

	release := func() {
		r.mu.Lock()
		entry.lastUsed = r.now()
		r.mu.Unlock()
		entry.mu.Unlock()
	}
	return entry.session, release, nil
}

// Close очищает и удаляет сессию.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if !entry.mu.TryLock() {
		return ErrSessionBusy
	}
	defer entry.mu.Unlock()

	r.mu.Lock()
	// Сессию могли вытеснить, пока мы ждали её блокировку.
	if current, still := r.entries[id]; !still || current != entry {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.entries, id)
	r.mu.Unlock()

	entry.session.Clear()
	r.metrics.SessionClosed()
	return nil
}

// Len возвращает число открытых сессий.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run периодически вытесняет простаивающие сессии до отмены ctx.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep удаляет сессии, которые простаивают дольше idle TTL.
// Занятые сессии пропускаются до следующего прохода.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var evicted []*registryEntry
	for id, entry := range r.entries {
		if entry.lastUsed.After(cutoff) {
			continue
		}
		if !entry.mu.TryLock() {
			continue
		}
		delete(r.entries, id)
		evicted = append(evicted, entry)
	}
	r.mu.Unlock()

	for _, entry := range evicted {
		if entry.session.IsDirty() {
			r.logger.WithFields(log.Fields{
				"session_id": entry.session.ID(),
				"order_id":   entry.session.OrderID(),
			}).Warn("evicting idle session with unsaved edits")
		}
		entry.session.Clear()
		entry.mu.Unlock()
		r.metrics.SessionClosed()
	}

	if len(evicted) > 0 {
		r.metrics.RecordEvictions(len(evicted))
		r.logger.WithField("evicted", len(evicted)).Info("idle sessions evicted")
	}
	return len(evicted)
}
