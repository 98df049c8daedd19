package keypad

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/accesslog"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// subscribeQoS is used for both request subscriptions.
const subscribeQoS = 1

// Validator decides validation requests. *access.Engine implements it.
type Validator interface {
	ValidateByCode(ctx context.Context, code, source string) (access.Verdict, error)
	ValidateByTag(ctx context.Context, tag, source string) (access.Verdict, error)
}

// Transport is the part of the MQTT client the bridge uses.
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any) error
}

// Observer receives bridge metrics. *metrics.Prom implements it.
type Observer interface {
	ObserveValidationDuration(method string, seconds float64)
	ObserveRateLimited(method string)
	ObserveCommand(op string, err error)
}

// Deps holds the collaborators the bridge needs.
type Deps struct {
	Engine    Validator
	Users     *access.UserManager
	Schedules *access.ScheduleManager
	Store     *access.Store
	Transport Transport
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge's logger.
func WithLogger(l access.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observer = o }
}

// WithRateLimit limits validation requests to perMinute per source with the
// given burst. Zero disables limiting.
func WithRateLimit(perMinute, burst int) Option {
	return func(b *Bridge) {
		b.perMinute, b.burst = perMinute, burst
	}
}

// WithAccessLog enables the list_access_log command and the today counts in
// get_stats.
func WithAccessLog(repo accesslog.Repository) Option {
	return func(b *Bridge) { b.accessLog = repo }
}

// WithSettingsHook is called after settings change, e.g. to switch the
// process log level.
func WithSettingsHook(fn func(access.Settings)) Option {
	return func(b *Bridge) { b.onSettings = fn }
}

// WithClock sets the time source for rate limiting and "today".
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLocation sets the site timezone used for "today" in get_stats.
func WithLocation(loc *time.Location) Option {
	return func(b *Bridge) {
		if loc != nil {
			b.location = loc
		}
	}
}

// Bridge routes MQTT requests to the engine and managers and publishes replies.
type Bridge struct {
	deps       Deps
	logger     access.Logger
	observer   Observer
	accessLog  accesslog.Repository
	onSettings func(access.Settings)
	now        func() time.Time
	location   *time.Location
	validate   *validator.Validate

	perMinute, burst int
	limiter          *sourceLimiter

	commands map[string]commandFunc

	ctxMu sync.RWMutex
	ctx   context.Context
}

// New creates a bridge. Start subscribes it.
func New(deps Deps, opts ...Option) (*Bridge, error) {
	switch {
	case deps.Engine == nil:
		return nil, errors.New("keypad: engine is required")
	case deps.Users == nil || deps.Schedules == nil || deps.Store == nil:
		return nil, errors.New("keypad: users, schedules and store are required")
	case deps.Transport == nil:
		return nil, errors.New("keypad: transport is required")
	}

	b := &Bridge{
		deps:     deps,
		logger:   nopLogger{},
		now:      time.Now,
		location: time.Local,
		validate: newValidator(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.limiter = newSourceLimiter(b.perMinute, b.burst, b.now)
	b.commands = b.commandTable()
	return b, nil
}

// Start subscribes to validation and command topics. Handlers use ctx for
// the work they trigger.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctxMu.Lock()
	b.ctx = ctx
	b.ctxMu.Unlock()

	topics := mqtt.Topics{}
	if err := b.deps.Transport.Subscribe(topics.AllValidate(), subscribeQoS, b.HandleValidate); err != nil {
		return fmt.Errorf("subscribing to validation requests: %w", err)
	}
	if err := b.deps.Transport.Subscribe(topics.AllCommands(), subscribeQoS, b.HandleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	b.logger.Info("keypad bridge started",
		"validate_topic", topics.AllValidate(),
		"command_topic", topics.AllCommands(),
		"rate_limit_per_minute", b.perMinute,
	)
	return nil
}

// Stop unsubscribes from request topics so no further validations are
// accepted. Messages already in flight may still be answered.
func (b *Bridge) Stop() error {
	topics := mqtt.Topics{}
	var errs []error
	for _, topic := range []string{topics.AllValidate(), topics.AllCommands()} {
		if err := b.deps.Transport.Unsubscribe(topic); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing from %s: %w", topic, err))
		}
	}
	b.logger.Info("keypad bridge stopped")
	return errors.Join(errs...)
}

func (b *Bridge) context() context.Context {
	b.ctxMu.RLock()
	defer b.ctxMu.RUnlock()
	return b.ctx
}

// HandleValidate answers a message on graylogic/access/validate/{method}/{source}.
func (b *Bridge) HandleValidate(topic string, payload []byte) error {
	methodName, source, ok := mqtt.Topics{}.ParseValidate(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnroutable, topic)
	}
	method := access.Method(methodName)

	var requestID, credential string
	switch method {
	case access.MethodCode:
		var req codeRequest
		if err := decode(b.validate, payload, &req); err != nil {
			return err
		}
		requestID, credential = req.RequestID, req.Code
	case access.MethodTag:
		var req tagRequest
		if err := decode(b.validate, payload, &req); err != nil {
			return err
		}
		requestID, credential = req.RequestID, req.Tag
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, methodName)
	}

	resp := ValidateResponse{RequestID: requestID, Source: source}

	if !b.limiter.Allow(source) {
		if b.observer != nil {
			b.observer.ObserveRateLimited(string(method))
		}
		b.logger.Warn("validation request rate limited", "method", method, "source", source)
		resp.Reason = ReasonRateLimited
		return b.reply(requestID, resp)
	}

	start := time.Now()
	verdict, err := b.runValidation(method, credential, source)
	if b.observer != nil {
		b.observer.ObserveValidationDuration(string(method), time.Since(start).Seconds())
	}
	if err != nil {
		// The verdict is still a refusal; the engine has logged the cause.
		b.logger.Error("validation failed internally", "method", method, "source", source, "error", err)
	}

	resp.Valid = verdict.Valid
	resp.UserName = verdict.UserName
	resp.Reason = verdict.Reason
	if verdict.Valid {
		resp.AccessTime = b.deps.Store.Settings().DefaultAccessTime
	}
	return b.reply(requestID, resp)
}

func (b *Bridge) runValidation(method access.Method, credential, source string) (access.Verdict, error) {
	ctx := b.context()
	if method == access.MethodCode {
		return b.deps.Engine.ValidateByCode(ctx, credential, source)
	}
	return b.deps.Engine.ValidateByTag(ctx, credential, source)
}

// HandleCommand answers a message on graylogic/access/command/{op}.
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	op, ok := mqtt.Topics{}.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnroutable, topic)
	}

	var env requestEnvelope
	if err := decode(b.validate, payload, &env); err != nil {
		// Without a request id there is nowhere to reply.
		return err
	}

	resp := CommandResponse{RequestID: env.RequestID}
	cmd, known := b.commands[op]
	if !known {
		err := fmt.Errorf("%w: %q", ErrUnknownCommand, op)
		fillError(&resp, err)
		if replyErr := b.reply(env.RequestID, resp); replyErr != nil {
			return replyErr
		}
		return err
	}

	data, err := cmd(b.context(), payload)
	if b.observer != nil {
		b.observer.ObserveCommand(op, err)
	}
	switch {
	case err == nil:
		resp.OK, resp.Data = true, data
	case data != nil && errors.Is(err, access.ErrStorage):
		// Applied in memory, not yet saved.
		resp.OK, resp.Data, resp.Warning = true, data, err.Error()
		b.logger.Warn("command applied but not persisted", "op", op, "error", err)
	default:
		fillError(&resp, err)
		b.logger.Debug("command rejected", "op", op, "error", err)
	}
	return b.reply(env.RequestID, resp)
}

func (b *Bridge) reply(requestID string, v any) error {
	if err := b.deps.Transport.PublishJSON(mqtt.Topics{}.Response(requestID), v); err != nil {
		return fmt.Errorf("publishing response %s: %w", requestID, err)
	}
	return nil
}

// fillError maps an error onto the response's error fields.
func fillError(resp *CommandResponse, err error) {
	resp.OK = false
	resp.Error = err.Error()

	var userErr *access.UserValidationError
	var schedErr *access.ScheduleValidationError
	var fieldErr *FieldError
	switch {
	case errors.As(err, &userErr):
		resp.Code, resp.Field, resp.Error = "validation", userErr.Field, userErr.Message
	case errors.As(err, &schedErr):
		resp.Code, resp.Field, resp.Error = "validation", schedErr.Field, schedErr.Message
	case errors.As(err, &fieldErr):
		resp.Code, resp.Field = "bad_request", fieldErr.Field
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrUnknownCommand):
		resp.Code = "bad_request"
	case errors.Is(err, access.ErrNotFound):
		resp.Code = "not_found"
	case errors.Is(err, access.ErrValidation):
		resp.Code = "validation"
	case errors.Is(err, access.ErrStorage):
		resp.Code = "storage"
	default:
		resp.Code = "internal"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
