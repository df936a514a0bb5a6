package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/thiagorragazzo/clinic-assistant/internal/llm"
	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

const (
	defaultWindow    = 5
	defaultTimeout   = 15 * time.Second
	defaultMaxTokens = 512
	nlpTemperature   = 0.1
	nlpTopP          = 0.9
	nlpConfidence    = 0.8
)

// ErrUnparseable is returned by Decode when the text holds no valid result.
var ErrUnparseable = errors.New("intent: unparseable model output")

var resultSchema = mustResolve(&jsonschema.Schema{
	Type:     "object",
	Required: []string{"type"},
	Properties: map[string]*jsonschema.Schema{
		"type": {
			Type: "string",
			Enum: []any{string(TypeSchedule), string(TypeCancel), string(TypeReschedule), string(TypeInformation), string(TypeUnknown)},
		},
		"confidence": {Type: "number", Minimum: float64Ptr(0), Maximum: float64Ptr(1)},
		"entities": {
			Types: []string{"object", "null"},
			Properties: map[string]*jsonschema.Schema{
				"identity_number": {Types: []string{"string", "number", "null"}},
				"date":            {Types: []string{"string", "null"}},
				"time":            {Types: []string{"string", "null"}},
				"full_name":       {Types: []string{"string", "null"}},
				"contact_address": {Types: []string{"string", "null"}},
				"email":           {Types: []string{"string", "null"}},
			},
		},
	},
})

func float64Ptr(f float64) *float64 { return &f }

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("intent: resolve result schema: %v", err))
	}
	return resolved
}

// Resolver turns recent conversation history into a Result. It never fails:
// collaborator errors and malformed output go through Fallback.
type Resolver struct {
	client   llm.Client
	logger   *logging.Logger
	model    string
	window   int
	timeout  time.Duration
	location *time.Location
	now      func() time.Time
}

type Option func(*Resolver)

func WithModel(model string) Option {
	return func(r *Resolver) { r.model = model }
}

// WithWindow sets how many trailing messages are analysed.
func WithWindow(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.window = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		if loc != nil {
			r.location = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver builds a resolver. A nil client means every turn uses the
// deterministic fallback.
func NewResolver(client llm.Client, logger *logging.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Resolver{
		client:   client,
		logger:   logger,
		window:   defaultWindow,
		timeout:  defaultTimeout,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve classifies the last messages of history.
func (r *Resolver) Resolve(ctx context.Context, history []llm.Message) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("intent resolution panicked", "panic", fmt.Sprint(rec))
			result = Unknown()
		}
	}()

	window := Window(history, r.window)
	transcript := BuildTranscript(window)
	if transcript == "" {
		return Unknown()
	}
	now := r.now().In(r.location)

	if r.client != nil {
		decoded, err := r.classify(ctx, transcript, now)
		if err == nil {
			return r.finalize(decoded, now)
		}
		r.logger.Warn("nlp intent classification failed, using fallback", "error", err)
	}
	return r.finalize(Fallback(PatientText(window), now, r.location), now)
}

func (r *Resolver) classify(ctx context.Context, transcript string, now time.Time) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Complete(ctx, llm.Request{
		Model:       r.model,
		System:      []string{SystemInstruction(now)},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: transcript}},
		MaxTokens:   defaultMaxTokens,
		Temperature: nlpTemperature,
		TopP:        nlpTopP,
	})
	if err != nil {
		return Result{}, err
	}
	return Decode(resp.Text)
}

// Decode extracts the outermost JSON object from model text, validates it
// against the result schema and converts it into a Result.
func Decode(text string) (Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Result{}, ErrUnparseable
	}
	payload := []byte(text[start : end+1])

	var instance map[string]any
	if err := json.Unmarshal(payload, &instance); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if err := resultSchema.Validate(instance); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	var wire struct {
		Type       Type     `json:"type"`
		Confidence *float64 `json:"confidence"`
		Entities   Entities `json:"entities"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	result := Result{
		Type:       wire.Type,
		Confidence: nlpConfidence,
		Entities:   wire.Entities,
		Source:     SourceNLP,
	}
	if wire.Confidence != nil {
		result.Confidence = *wire.Confidence
	}
	return result, nil
}

// finalize normalizes entity formats and attaches the checksum flag.
// Values that cannot be normalized are kept so validation can report them.
func (r *Resolver) finalize(result Result, now time.Time) Result {
	e := &result.Entities
	if e.IdentityNumber != "" {
		e.IdentityNumber = validation.DigitsOnly(e.IdentityNumber)
		result.IdentityVerified = validation.ValidateIdentityNumber(e.IdentityNumber)
	}
	if e.Date != "" {
		if d, err := validation.ParseDate(e.Date, now, r.location); err == nil {
			e.Date = d.Format(validation.ISODate)
		}
	}
	if e.Time != "" {
		if clock, err := validation.ParseTime(e.Time); err == nil {
			e.Time = clock
		}
	}
	e.FullName = strings.Join(strings.Fields(e.FullName), " ")
	if e.Email != "" && !emailRe.MatchString(e.Email) {
		e.Email = ""
	}
	return result
}
