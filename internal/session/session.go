package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
	"github.com/vladislavdragonenkov/ordereditor/internal/metrics"
)

var (
	// ErrNotLoaded: операция требует загруженного заказа.
	ErrNotLoaded = errors.New("no order loaded in session")
	// ErrSaveInProgress: повторное сохранение, пока предыдущее не завершилось.
	ErrSaveInProgress = errors.New("save already in progress")
)

// Options задаёт параметры сессии.
type Options struct {
	ID           string
	Logger       *log.Entry
	Metrics      *metrics.SessionMetrics
	Timeline     domain.TimelineRepository
	Publisher    domain.EventPublisher
	HistoryLimit int
	Now          func() time.Time
}

// Option настраивает Session.
type Option func(*Options)

// WithID задаёт идентификатор сессии (по умолчанию UUID).
func WithID(id string) Option {
	return func(opts *Options) {
		opts.ID = id
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики Prometheus.
func WithMetrics(m *metrics.SessionMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithTimeline подключает журнал событий заказа.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(opts *Options) {
		opts.Timeline = repo
	}
}

// WithPublisher подключает публикацию событий (например, в Kafka).
func WithPublisher(publisher domain.EventPublisher) Option {
	return func(opts *Options) {
		opts.Publisher = publisher
	}
}

// WithHistoryLimit задаёт размер истории undo.
func WithHistoryLimit(limit int) Option {
	return func(opts *Options) {
		opts.HistoryLimit = limit
	}
}

// WithClock подменяет источник времени для событий.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Session: сессия редактирования одного заказа.
//
// Сессия владеет двумя снимками: original (последняя известная правда сервера)
// и working (редактируемая копия). Внутренних блокировок нет: вызовы должны
// быть последовательными, повторный Save во время сохранения отклоняется.
type Session struct {
	id        string
	store     domain.OrderStore
	timeline  domain.TimelineRepository
	publisher domain.EventPublisher
	logger    *log.Entry
	metrics   *metrics.SessionMetrics
	now       func() time.Time

	loaded      bool
	original    domain.Order
	working     domain.Order
	history     *History
	dirty       bool
	state       SaveState
	fieldErrors map[string]string
	lastErr     error
}

// New создаёт пустую сессию поверх хранилища заказов.
func New(store domain.OrderStore, options ...Option) *Session {
	opts := Options{HistoryLimit: DefaultHistoryLimit}
	for _, option := range options {
		option(&opts)
	}

	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "edit-session")
	}

	return &Session{
		id:          opts.ID,
		store:       store,
		timeline:    opts.Timeline,
		publisher:   opts.Publisher,
		logger:      logger.WithField("session_id", opts.ID),
		metrics:     opts.Metrics,
		now:         opts.Now,
		history:     NewHistory(opts.HistoryLimit),
		state:       SaveStateIdle,
		fieldErrors: make(map[string]string),
	}
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() string {
	return s.id
}

// Loaded сообщает, загружен ли заказ.
func (s *Session) Loaded() bool {
	return s.loaded
}

// OrderID возвращает идентификатор загруженного заказа.
func (s *Session) OrderID() string {
	return s.original.ID
}

// Working возвращает копию рабочего заказа.
func (s *Session) Working() domain.Order {
	return s.working.Clone()
}

// Original возвращает копию исходного заказа.
func (s *Session) Original() domain.Order {
	return s.original.Clone()
}

// IsDirty сообщает, есть ли несохранённые действия (включая undo).
func (s *Session) IsDirty() bool {
	return s.dirty
}

// State возвращает состояние координатора сохранения.
func (s *Session) State() SaveState {
	return s.state
}

// LastError возвращает последнюю ошибку загрузки, сохранения или завершения.
func (s *Session) LastError() error {
	return s.lastErr
}

// CanUndo сообщает, доступен ли undo.
func (s *Session) CanUndo() bool {
	return s.loaded && s.history.CanUndo()
}

// CanRedo сообщает, доступен ли redo.
func (s *Session) CanRedo() bool {
	return s.loaded && s.history.CanRedo()
}

// HistoryLen возвращает количество снимков в истории.
func (s *Session) HistoryLen() int {
	return s.history.Len()
}

// Load загружает заказ из хранилища и начинает сессию заново.
// При ошибке текущее состояние сессии не меняется.
func (s *Session) Load(ctx context.Context, id string) Result {
	s.lastErr = nil
	if id == "" {
		s.lastErr = domain.ErrOrderIDRequired
		return Result{Outcome: OutcomeFailed, Err: s.lastErr}
	}

	order, err := s.store.Get(ctx, id)
	if err != nil {
		s.lastErr = err
		logger := s.logger.WithError(err).WithField("order_id", id)
		if domain.IsNotFound(err) {
			logger.Info("order not found for edit session")
			return Result{Outcome: OutcomeNotFound, Err: err}
		}
		logger.Warn("failed to load order")
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	s.adopt(order)
	s.state = SaveStateIdle
	s.metrics.RecordLoad()
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"version":  order.Version,
	}).Debug("order loaded into edit session")

	return Result{Outcome: OutcomeLoaded, Order: order.Clone()}
}

// Reset отбрасывает все несохранённые правки без обращения к серверу.
func (s *Session) Reset() {
	if !s.loaded {
		return
	}
	s.working = s.original.Clone()
	s.history.Clear()
	s.dirty = false
	s.fieldErrors = make(map[string]string)
	s.state = SaveStateIdle
	s.lastErr = nil
}

// Clear полностью завершает сессию.
func (s *Session) Clear() {
	s.loaded = false
	s.original = domain.Order{}
	s.working = domain.Order{}
	s.history.Clear()
	s.dirty = false
	s.fieldErrors = make(map[string]string)
	s.state = SaveStateIdle
	s.lastErr = nil
}

// adopt делает ответ сервера новой точкой отсчёта для обоих снимков.
func (s *Session) adopt(order domain.Order) {
	s.original = order.Clone()
	s.working = order.Clone()
	s.history.Clear()
	s.dirty = false
	s.fieldErrors = make(map[string]string)
	s.loaded = true
}

// FieldError возвращает ошибку валидации поля или пустую строку.
func (s *Session) FieldError(field string) string {
	return s.fieldErrors[field]
}

// FieldErrors возвращает копию всех ошибок валидации.
func (s *Session) FieldErrors() map[string]string {
	out := make(map[string]string, len(s.fieldErrors))
	for k, v := range s.fieldErrors {
		out[k] = v
	}
	return out
}

// SetFieldError привязывает ошибку к полю; она снимется при следующей правке поля.
func (s *Session) SetFieldError(field, message string) {
	if message == "" {
		delete(s.fieldErrors, field)
		return
	}
	s.fieldErrors[field] = message
}

// Validate проверяет рабочую копию и привязывает ошибки к полям.
func (s *Session) Validate() domain.ValidationErrors {
	if !s.loaded {
		return nil
	}
	errs := s.working.ValidateInvariants()
	s.attachFieldErrors(errs)
	return errs
}

func (s *Session) attachFieldErrors(errs domain.ValidationErrors) {
	for field, message := range errs.ByField() {
		s.fieldErrors[field] = message
	}
}
