package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskState tracks a LinkTask through the resolution state machine.
type TaskState string

const (
	StateUnresolved         TaskState = "unresolved"
	StateSessionEstablished TaskState = "session_established"
	StateChallengeParsed    TaskState = "challenge_parsed"
	StateStepsSimulated     TaskState = "steps_simulated"
	StateTokenExchanged     TaskState = "token_exchanged"
	StateResolved           TaskState = "resolved"
	StateFailed             TaskState = "failed"
)

// Terminal reports whether the state machine is done with the task.
func (s TaskState) Terminal() bool {
	return s == StateResolved || s == StateFailed
}

// LinkInput is one locked link handed to the orchestrator. Name is optional
// and only used for display ("name: url" lines in file mode).
type LinkInput struct {
	Name string
	URL  string
}

// LinkTask carries one locked link through resolution. It is owned by the
// resolver driving it; nothing else mutates it.
type LinkTask struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	SourceURL   string    `json:"source_url"`
	ExpandedURL string    `json:"expanded_url,omitempty"`
	State       TaskState `json:"state"`
	ResolvedURL string    `json:"resolved_url,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	FailReason  string    `json:"fail_reason,omitempty"`
	Attempts    int       `json:"attempts"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// NewLinkTask creates an unresolved task for the given input.
func NewLinkTask(in LinkInput) *LinkTask {
	return &LinkTask{
		ID:        uuid.NewString(),
		Name:      in.Name,
		SourceURL: in.URL,
		State:     StateUnresolved,
	}
}

// Resolve marks the task terminally resolved.
func (t *LinkTask) Resolve(url string) {
	t.State = StateResolved
	t.ResolvedURL = url
	t.ErrorKind = ""
	t.FailReason = ""
	t.FinishedAt = time.Now()
}

// Fail marks the task terminally failed with the originating error kind.
func (t *LinkTask) Fail(kind ErrorKind, reason string) {
	t.State = StateFailed
	t.ResolvedURL = ""
	t.ErrorKind = kind
	t.FailReason = reason
	t.FinishedAt = time.Now()
}

// Session is the accumulated HTTP identity for one resolution attempt.
// Cookies and headers are append-only for the task's lifetime; gate servers
// expect proof-of-activity cookies to accumulate monotonically.
type Session struct {
	Cookies map[string]string
	Headers map[string]string
}

// NewSession creates an empty session carrying the given base headers.
func NewSession(headers map[string]string) *Session {
	s := &Session{
		Cookies: make(map[string]string),
		Headers: make(map[string]string, len(headers)),
	}
	for k, v := range headers {
		s.Headers[k] = v
	}
	return s
}

// SetCookie records a cookie. Overwriting an existing name with a fresh
// value is allowed; removal is not.
func (s *Session) SetCookie(name, value string) {
	s.Cookies[name] = value
}

// StepKind is the fixed vocabulary of gate-completion actions.
type StepKind string

const (
	StepTimer     StepKind = "timer"
	StepSubscribe StepKind = "subscribe"
	StepVisit     StepKind = "visit"
)

// StepSpec describes one unit of gate-completion work.
type StepSpec struct {
	Kind     StepKind          `json:"kind"`
	Endpoint string            `json:"endpoint,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// GateChallenge is the validated, immutable description of what a gate
// requires before it reveals the destination URL.
type GateChallenge struct {
	Token     string
	MinWait   time.Duration
	UnlockURL string
	Steps     []StepSpec
}

// StepProof is the evidence one completed step produced, submitted to the
// unlock endpoint in step order.
type StepProof struct {
	Index    int    `json:"index"`
	Evidence string `json:"evidence"`
}
