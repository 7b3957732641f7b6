package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Turn is one message in the conversation submitted for evaluation. Image,
// when present, is an inline data URL (data:image/...;base64,...).
type Turn struct {
	Role  string
	Text  string
	Image string
}

// Metadata is free-text context attached to every evaluation: the current
// date/time and a summary of recent outcomes.
type Metadata struct {
	Now            time.Time
	RecentOutcomes string
}

// Backend is one reasoning provider. Implementations perform network I/O and
// must honor the context deadline.
type Backend interface {
	Name() string
	Complete(ctx context.Context, system string, turns []Turn) (string, error)
}

// Oracle converts a conversation into a structured verdict.
type Oracle interface {
	Name() string
	Evaluate(ctx context.Context, turns []Turn, meta Metadata) (Verdict, error)
	Chat(ctx context.Context, turns []Turn, meta Metadata) (string, error)
}

// Evaluator drives a Backend with the gatekeeper prompt and coerces whatever
// comes back into a Verdict.
type Evaluator struct {
	backend     Backend
	chatBackend Backend
}

func NewEvaluator(backend Backend) *Evaluator {
	return &Evaluator{backend: backend, chatBackend: backend}
}

// WithChatBackend routes the daytime persona through a separate backend,
// typically a cheaper model than the gatekeeper's.
func (e *Evaluator) WithChatBackend(backend Backend) *Evaluator {
	e.chatBackend = backend
	return e
}

func (e *Evaluator) Name() string {
	return e.backend.Name()
}

// Evaluate submits the full turn history plus context metadata and returns
// the backend's verdict. Transport failures are returned as errors; the
// caller decides how to surface them.
func (e *Evaluator) Evaluate(ctx context.Context, turns []Turn, meta Metadata) (Verdict, error) {
	system := GatekeeperPrompt + SystemContext(meta)
	text, err := e.backend.Complete(ctx, system, turns)
	if err != nil {
		return Verdict{}, fmt.Errorf("oracle %s: %w", e.backend.Name(), err)
	}
	return ParseVerdict(text), nil
}

// Chat submits the history under the access-neutral daytime persona and
// returns the reply text verbatim.
func (e *Evaluator) Chat(ctx context.Context, turns []Turn, meta Metadata) (string, error) {
	system := DayChatPrompt + SystemContext(meta)
	text, err := e.chatBackend.Complete(ctx, system, turns)
	if err != nil {
		return "", fmt.Errorf("oracle %s: %w", e.chatBackend.Name(), err)
	}
	return strings.TrimSpace(text), nil
}

// GatekeeperPrompt instructs the reasoning backend. Proof-image policy lives
// entirely here; the protocol engine only transports attachments.
const GatekeeperPrompt = `You are a gatekeeper AI controlling internet access during nighttime hours (9pm-5am).

Your role is to evaluate whether someone has a legitimate reason to access the internet right now, or if they should wait until morning.

## Access Rules:
- 10 minutes: Quick check that can't wait, would cause stress if delayed
- Up to 60 minutes: Work tasks, school assignments that must be done TODAY
- Up to 120 minutes: Video calls, Zoom meetings, voice calls

## Your behavior:
1. ALWAYS ask the user how much time they need (in minutes)
2. If they request MORE than 10 minutes:
   a. Ask them to justify why they need that specific amount of time
   b. REQUIRE them to upload proof (screenshot, email, document, calendar invite, etc.)
   c. When they upload an image, carefully examine it to verify their claim
3. You may ask up to 3 clarifying questions total
4. Be understanding but firm - most things CAN wait until morning
5. Mindless browsing, social media, entertainment = DENY
6. Legitimate work/emergency = APPROVE with appropriate duration

## Proof verification (for requests >10 minutes):
- When the user uploads an image, analyze it carefully
- Check if the image actually supports their stated reason
- Look for: email subject/content, due dates, calendar invites, assignment details
- Be suspicious of generic or irrelevant images
- If the image doesn't match their claim, DENY access
- If no proof is provided for >10 minutes, ask: "Please upload a screenshot as proof (email, calendar, assignment, etc.)"

## Response format:
If you need clarification or proof, respond with:
{"status": "question", "message": "Your clarifying question or request for proof"}

If you're ready to decide, respond with:
{"status": "approved", "duration": <minutes>, "message": "Brief explanation"}
or
{"status": "denied", "message": "Brief explanation of why they should wait"}

IMPORTANT: Always respond with valid JSON only. No markdown, no extra text.`

// DayChatPrompt is the access-neutral daytime persona.
const DayChatPrompt = `You are a friendly household assistant reachable from the home router's status page.

Answer questions conversationally and keep replies short. You have no control over internet access during the day; never promise to grant or deny anything.

Respond with plain text only.`

// SystemContext renders the metadata block appended to the system prompt.
func SystemContext(meta Metadata) string {
	var b strings.Builder
	b.WriteString("\n\n## Current Context:\n")
	fmt.Fprintf(&b, "- Date: %s (%s)\n", meta.Now.Format("2006-01-02"), meta.Now.Weekday())
	fmt.Fprintf(&b, "- Time: %s", meta.Now.Format("03:04 PM"))
	if meta.RecentOutcomes != "" {
		b.WriteString(meta.RecentOutcomes)
	}
	return b.String()
}

// ParseDataURL splits an inline image data URL into its mime type and base64
// payload.
func ParseDataURL(dataURL string) (mime string, base64Data string, err error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return "", "", fmt.Errorf("not a data URL")
	}
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok {
		return "", "", fmt.Errorf("malformed data URL")
	}
	mime = strings.TrimPrefix(header, "data:")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" {
		return "", "", fmt.Errorf("data URL missing mime type")
	}
	return mime, payload, nil
}
