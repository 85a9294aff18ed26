package ai

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrMediaRequired is returned by transcription clients invoked without a media path.
var ErrMediaRequired = errors.New("media path is required")

// ErrTimeout indicates the provider did not answer within the request timeout.
var ErrTimeout = errors.New("model invocation timed out")

// Request is a single call to an external model.
type Request struct {
	RunKey    string
	System    string
	Prompt    string
	MediaPath string
	Timeout   time.Duration
}

// Response carries the raw output of a model call.
type Response struct {
	Text             string
	Model            string
	Latency          time.Duration
	PromptTokens     int
	CompletionTokens int
}

// Client is the narrow contract used to invoke one configured model.
type Client interface {
	Provider() string
	Model() string
	Invoke(ctx context.Context, req Request) (Response, error)
}

// HealthChecker is implemented by clients that can report provider availability.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Providers indexes clients by the model identifier used in assignment settings.
type Providers map[string]Client

// Get looks up the client registered for a model identifier.
func (p Providers) Get(model string) (Client, bool) {
	client, ok := p[model]
	return client, ok
}

// Names lists registered model identifiers in sorted order.
func (p Providers) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
