package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shieldd/internal/challenge"
	"shieldd/internal/logging"
	"shieldd/internal/policy"
	"shieldd/internal/protection"
	"shieldd/internal/schedule"
)

// DaemonHandler dispatches IPC requests to the protection controller
// and the scheduler.
type DaemonHandler struct {
	controller *protection.Controller
	scheduler  *schedule.Scheduler
	log        *logging.Logger

	// reload, when set, re-reads the daemon configuration.
	reload func() error
}

// NewDaemonHandler creates the daemon-side request handler.
func NewDaemonHandler(c *protection.Controller, s *schedule.Scheduler, log *logging.Logger) *DaemonHandler {
	return &DaemonHandler{controller: c, scheduler: s, log: log}
}

// SetReloadFunc wires the configuration reload operation.
func (h *DaemonHandler) SetReloadFunc(fn func() error) {
	h.reload = fn
}

// Handle processes a single request and returns the response message.
func (h *DaemonHandler) Handle(ctx context.Context, msg *Message) *Message {
	id := msg.Header.RequestID

	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, id, nil)
	case MsgReload:
		if h.reload == nil {
			return ErrorMessage(id, "unavailable", "no configuration file to reload")
		}
		if err := h.reload(); err != nil {
			return ErrorMessage(id, "reload_failed", err.Error())
		}
		return NewMessage(MsgPong, id, nil)
	case MsgStatusRequest:
		return h.status(id)
	case MsgActivate:
		return h.activate(id, msg)
	case MsgRecordAttempt:
		return h.recordAttempt(id, msg)
	case MsgRequestDeactivation:
		return h.requestDeactivation(id)
	case MsgAnswerChallenge:
		return h.answerChallenge(id, msg)
	case MsgEmergencyOverride:
		return h.emergencyOverride(id)
	case MsgManualStop:
		return h.manualStop(id)
	case MsgIsBlocked:
		return h.isBlocked(id, msg)
	case MsgGetHistory:
		return h.history(id)
	case MsgGetPolicy:
		return h.getPolicy(id)
	case MsgSetPolicy:
		return h.setPolicy(id, msg)
	case MsgListSchedules:
		return h.listSchedules(id)
	case MsgSetSchedules:
		return h.setSchedules(id, msg)
	default:
		return ErrorMessage(id, "unknown_type", fmt.Sprintf("unknown message type %#x", msg.Header.Type))
	}
}

func (h *DaemonHandler) status(id uint32) *Message {
	p := StatusPayload{PendingWrites: h.controller.PendingWrites()}

	active, sess := h.controller.SessionState()
	p.Active = active
	if sess != nil {
		p.SessionID = sess.ID
		p.StartTime = &sess.StartTime
		p.ScheduledEndTime = sess.ScheduledEndTime
		p.ActivationType = string(sess.ActivationType)
		p.AttemptCount = len(sess.BlockedAttempts)
		if remaining, ok := h.controller.Remaining(); ok {
			secs := int64(remaining / time.Second)
			p.RemainingSeconds = &secs
		}
	}
	if h.scheduler != nil {
		if next, _, ok := h.scheduler.ComputeNextTrigger(time.Now()); ok {
			p.NextTrigger = &next
		}
	}

	resp, err := Marshal(MsgStatusResponse, id, p)
	if err != nil {
		return ErrorMessage(id, "internal", err.Error())
	}
	return resp
}

func (h *DaemonHandler) activate(id uint32, msg *Message) *Message {
	var req ActivatePayload
	if err := msg.Unmarshal(&req); err != nil {
		return ErrorMessage(id, "bad_request", err.Error())
	}
	if req.DurationSeconds < 0 {
		return ErrorMessage(id, "bad_request", "duration must not be negative")
	}

	at := protection.ActivationType(req.ActivationType)
	if req.ActivationType == "" {
		at = protection.ActivationManual
	}

	// A zero duration means: fall back to the policy default, and
	// when no default is configured start an open-ended session.
	var duration *time.Duration
	if req.DurationSeconds > 0 {
		d := time.Duration(req.DurationSeconds) * time.Second
		duration = &d
	} else if secs := h.controller.Policy().DefaultDurationSeconds; secs != nil {
		d := time.Duration(*secs) * time.Second
		duration = &d
	}

	sess, err := h.controller.Activate(duration, at)
	if errors.Is(err, protection.ErrAlreadyActive) {
		// Idempotent: report the running session.
		return h.sessionResp(MsgActivateResp, id, sess)
	}
	if err != nil {
		return ErrorMessage(id, "activate_failed", err.Error())
	}
	return h.sessionResp(MsgActivateResp, id, sess)
}

func (h *DaemonHandler) sessionResp(t MessageType, id uint32, sess *protection.Session) *Message {
	resp, err := Marshal(t, id, sess)
	if err != nil {
		return ErrorMessage(id, "internal", err.Error())
	}
	return resp
}

func (h *DaemonHandler) recordAttempt(id uint32, msg *Message) *Message {
	var req RecordAttemptPayload
	if err := msg.Unmarshal(&req); err != nil {
		return ErrorMessage(id, "bad_request", err.Error())
	}

	attempt, err := h.controller.RecordAttempt(
		protection.AttemptType(req.AttemptType),
		req.TargetName,
		req.TargetIdentifier,
		protection.AttemptOutcome(req.Outcome),
	)
	if errors.Is(err, protection.ErrNotActive) {
		// Recording outside a session is a no-op, not a failure.
		return NewMessage(MsgRecordAttemptResp, id, nil)
	}
	if err != nil {
		return ErrorMessage(id, "record_failed", err.Error())
	}
	resp, err := Marshal(MsgRecordAttemptResp, id, attempt)
	if err != nil {
		return ErrorMessage(id, "internal", err.Error())
	}
	return resp
}

func (h *DaemonHandler) requestDeactivation(id uint32) *Message {
	ch, err := h.controller.RequestDeactivation()
	if err != nil {
		return ErrorMessage(id, "deactivation_failed", err.Error())
	}
	resp, err := Marshal(MsgRequestDeactivationResp, id, challengePayload(&ch))
	if err != nil {
		return ErrorMessage(id, "internal", err.Error())
	}
	return resp
}

func (h *DaemonHandler) answerChallenge(id uint32, msg *Message) *Message {
	var req AnswerPayload
	if err := msg.Unmarshal(&req); err != nil {
		return ErrorMessage(id, "bad_request", err.Error())
	}

	next, err := h.controller.CompleteDeactivation(req.Answer)
	var result AnswerResultPayload
	switch {
	case err == nil:
		result.Passed = true
	case errors.Is(err, protection.ErrChallengeMismatch):
		result.Next = challengePayload(next)
	case errors.Is(err, protection.ErrChallengeAttemptsExhausted):
		result.Exhausted = true
	default:
		return ErrorMessage(id, "answer_failed", err.Error())
	}

	resp, err := Marshal(MsgAnswerChallengeResp, id, result)
	if err != nil {
		return ErrorMessage(id, "internal", err.Error())
	}
	return resp
}

func challengePayload(ch *challenge.Challenge) *ChallengePayload {
	if ch == nil {
		return nil
	}
	return &ChallengePayload{
		ChallengeType: string(ch.Type),
		Difficulty:    string(ch.Difficulty),
		Prompt:        ch.Prompt,
	}
}

func (h *DaemonHandler) emergencyOverride(id uint32) *Message {
	if err := h.controller.EmergencyOverride(); err != nil {
		return ErrorMessage(id, "override_failed", err.Error())
	}
	return NewMessage(MsgEmergencyOverrideResp, id, nil)
}

func (h *DaemonHandler) manualStop(id uint32) *Message {
	err := h.controller.ManualStop()
	switch {
	case errors.Is(err, protection.ErrManualStopNotAllowed):
		return ErrorMessage(id, "not_permitted", err.Error())
	case err != nil:
		return ErrorMessage(id, "stop_failed", err.Error())
	}
	return NewMessage(MsgManualStopResp, id, nil)
}

func (h *DaemonHandler) isBlocked(id uint32, msg *Message) *Message {
	var req IsBlockedPayload
	if err := msg.Unmarshal(&req); err != nil {
		return ErrorMessage(id, "bad_request", err.Error())
	}

	kind := policy.TargetKind(req.TargetKind)
	if kind != policy.TargetApp && kind != policy.TargetContact {
		return ErrorMessage(id, "bad_request", fmt.Sprintf("unknown target kind %q", req.TargetKind))
	}

	blocked := h.controller.IsBlocked(kind, req.TargetID)
	resp, err := Marshal(MsgIsBlockedResp, id, IsBlockedResultPayload{Blocked: blocked})
	if err != nil {
		return ErrorMessage(id, "internal", err.Error())
	}
	return resp
}

func (h *DaemonHandler) history(id uint32) *Message {
	resp, err := Marshal(MsgGetHistoryResp, id, h.controller.History())
	if err != nil {
		return ErrorMessage(id, "internal", err.Error())
	}
	return resp
}

func (h *DaemonHandler) getPolicy(id uint32) *Message {
	resp, err := Marshal(MsgGetPolicyResp, id, h.controller.Policy())
	if err != nil {
		return ErrorMessage(id, "internal", err.Error())
	}
	return resp
}

func (h *DaemonHandler) setPolicy(id uint32, msg *Message) *Message {
	var p policy.UserPolicy
	if err := msg.Unmarshal(&p); err != nil {
		return ErrorMessage(id, "bad_request", err.Error())
	}
	if err := h.controller.SetPolicy(p); err != nil {
		return ErrorMessage(id, "bad_policy", err.Error())
	}
	return NewMessage(MsgSetPolicyResp, id, nil)
}

func (h *DaemonHandler) listSchedules(id uint32) *Message {
	if h.scheduler == nil {
		return ErrorMessage(id, "unavailable", "scheduler not running")
	}
	resp, err := Marshal(MsgListSchedulesResp, id, h.scheduler.Schedules())
	if err != nil {
		return ErrorMessage(id, "internal", err.Error())
	}
	return resp
}

func (h *DaemonHandler) setSchedules(id uint32, msg *Message) *Message {
	if h.scheduler == nil {
		return ErrorMessage(id, "unavailable", "scheduler not running")
	}
	var schedules []schedule.Schedule
	if err := msg.Unmarshal(&schedules); err != nil {
		return ErrorMessage(id, "bad_request", err.Error())
	}
	if err := h.scheduler.SetSchedules(schedules); err != nil {
		return ErrorMessage(id, "bad_schedule", err.Error())
	}
	return NewMessage(MsgSetSchedulesResp, id, nil)
}
