// Package protocol drives the justification conversation: it shuttles turns
// between the client and the oracle, enforces the clarification cap, clamps
// grant durations and records outcomes.
package protocol

import (
	"context"
	"log/slog"
	"strings"
	"time"

	ngerrors "github.com/nightgate/nightgate/internal/errors"
	"github.com/nightgate/nightgate/internal/ledger"
	"github.com/nightgate/nightgate/internal/logger"
	"github.com/nightgate/nightgate/internal/oracle"
	"github.com/nightgate/nightgate/internal/reqlog"
	"github.com/nightgate/nightgate/internal/session"
)

// forcingTurn is appended on the engine's behalf when the clarification cap
// is reached, so the oracle must decide on the next round trip.
const forcingTurn = "(Maximum clarifications reached. Please make a final decision.)"

const transientOracleMessage = "Failed to reach AI service. Please try again."

// Result is the outcome of one processed turn. Granted is only true when the
// firewall actually opened, never on the verdict alone.
type Result struct {
	Verdict oracle.Verdict
	Granted bool
}

type Config struct {
	MaxClarifications int
	MinGrantMinutes   int
	MaxGrantMinutes   int
}

// Engine owns the turn lifecycle for one conversation at a time per session.
type Engine struct {
	oracle   oracle.Oracle
	grants   *ledger.Ledger
	sessions *session.Store
	outcomes *reqlog.Log
	cfg      Config
	now      func() time.Time
}

func New(cfg Config, o oracle.Oracle, grants *ledger.Ledger, sessions *session.Store, outcomes *reqlog.Log) *Engine {
	return &Engine{
		oracle:   o,
		grants:   grants,
		sessions: sessions,
		outcomes: outcomes,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ProcessTurn appends the user's turn, consults the oracle and acts on the
// verdict. Turns for the same session are serialized; distinct sessions
// proceed concurrently.
func (e *Engine) ProcessTurn(ctx context.Context, sess session.Session, text, image string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" && image == "" {
		return Result{}, ngerrors.InvalidInput("empty message")
	}
	if text == "" {
		text = "(Image attached)"
	}

	e.sessions.Lock(sess.ID)
	defer e.sessions.Unlock(sess.ID)

	e.sessions.Append(sess.ID, session.Turn{Role: session.RoleUser, Text: text, Image: image})

	verdict, ok := e.evaluate(ctx, sess)
	if !ok {
		return Result{Verdict: oracle.ErrorVerdict(transientOracleMessage)}, nil
	}

	if verdict.Status == oracle.StatusQuestion {
		count := e.sessions.IncrementClarifications(sess.ID)
		e.sessions.Append(sess.ID, session.Turn{Role: session.RoleAssistant, Text: verdict.Message})

		// The cap forces exactly one decision round trip. Whatever the
		// oracle returns then, including another question, is surfaced
		// as-is rather than forcing again.
		if count == e.cfg.MaxClarifications {
			slog.Info("Clarification cap reached, forcing a decision", "session_id", sess.ID)
			e.sessions.Append(sess.ID, session.Turn{Role: session.RoleUser, Text: forcingTurn})

			verdict, ok = e.evaluate(ctx, sess)
			if !ok {
				return Result{Verdict: oracle.ErrorVerdict(transientOracleMessage)}, nil
			}
			if verdict.Status == oracle.StatusQuestion {
				e.sessions.Append(sess.ID, session.Turn{Role: session.RoleAssistant, Text: verdict.Message})
				return Result{Verdict: verdict}, nil
			}
		} else {
			return Result{Verdict: verdict}, nil
		}
	}

	switch verdict.Status {
	case oracle.StatusApproved:
		return e.approve(ctx, sess, verdict)
	case oracle.StatusDenied:
		e.sessions.Append(sess.ID, session.Turn{Role: session.RoleAssistant, Text: verdict.Message})
		e.recordOutcome(sess, "denied", 0)
		slog.Info("Access denied", "session_id", sess.ID, "reason", verdict.Message)
		return Result{Verdict: verdict}, nil
	default:
		e.sessions.Append(sess.ID, session.Turn{Role: session.RoleAssistant, Text: verdict.Message})
		return Result{Verdict: verdict}, nil
	}
}

// ProcessDayTurn is the access-neutral daytime conversation. No verdicts, no
// grants, no clarification counting.
func (e *Engine) ProcessDayTurn(ctx context.Context, sess session.Session, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ngerrors.InvalidInput("empty message")
	}

	e.sessions.Lock(sess.ID)
	defer e.sessions.Unlock(sess.ID)

	e.sessions.Append(sess.ID, session.Turn{Role: session.RoleUser, Text: text})

	reply, err := e.oracle.Chat(ctx, e.snapshot(sess.ID), e.metadata())
	if err != nil {
		slog.Error("Day chat call failed", "session_id", sess.ID, "error", err)
		return "", ngerrors.Transient("oracle unavailable")
	}

	e.sessions.Append(sess.ID, session.Turn{Role: session.RoleAssistant, Text: reply})
	return reply, nil
}

// approve clamps the duration and opens the network. The firewall runs
// first; when it fails nothing is recorded and the caller gets an error
// verdict so the client retries.
func (e *Engine) approve(ctx context.Context, sess session.Session, verdict oracle.Verdict) (Result, error) {
	minutes := verdict.Duration
	if minutes <= 0 {
		minutes = e.cfg.MinGrantMinutes
	}
	if minutes > e.cfg.MaxGrantMinutes {
		minutes = e.cfg.MaxGrantMinutes
	}
	verdict.Duration = minutes

	grantee := sess.LinkAddr
	if grantee == "" {
		grantee = sess.SourceAddr
	}

	if err := e.grants.Grant(ctx, minutes, grantee); err != nil {
		slog.Error("Approved but the network did not open", "session_id", sess.ID, "error", err)
		return Result{Verdict: oracle.ErrorVerdict("Access was approved but the network could not be opened. Please try again.")}, nil
	}

	e.sessions.Append(sess.ID, session.Turn{Role: session.RoleAssistant, Text: verdict.Message})
	e.recordOutcome(sess, "approved", minutes)
	slog.Info("Access granted", "session_id", sess.ID, "minutes", minutes, "grantee", grantee)
	return Result{Verdict: verdict, Granted: true}, nil
}

func (e *Engine) evaluate(ctx context.Context, sess session.Session) (oracle.Verdict, bool) {
	verdict, err := e.oracle.Evaluate(ctx, e.snapshot(sess.ID), e.metadata())
	if err != nil {
		slog.Error("Oracle call failed", "session_id", sess.ID, "client", logger.GetClientAddr(ctx), "error", err)
		return oracle.Verdict{}, false
	}
	return verdict, true
}

func (e *Engine) snapshot(id string) []oracle.Turn {
	turns := e.sessions.Turns(id)
	out := make([]oracle.Turn, len(turns))
	for i, t := range turns {
		out[i] = oracle.Turn{Role: string(t.Role), Text: t.Text, Image: t.Image}
	}
	return out
}

func (e *Engine) metadata() oracle.Metadata {
	return oracle.Metadata{Now: e.now(), RecentOutcomes: e.outcomes.ContextSummary()}
}

// recordOutcome logs the decision keyed to the first user turn, which is the
// stated reason for the request.
func (e *Engine) recordOutcome(sess session.Session, status string, minutes int) {
	reason := ""
	for _, t := range e.sessions.Turns(sess.ID) {
		if t.Role == session.RoleUser {
			reason = t.Text
			break
		}
	}
	if err := e.outcomes.Append(sess.LinkAddr, reason, status, minutes); err != nil {
		slog.Warn("Failed to record outcome", "error", err)
	}
}
