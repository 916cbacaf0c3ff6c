package ipc

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldd/internal/challenge"
	"shieldd/internal/logging"
	"shieldd/internal/policy"
	"shieldd/internal/protection"
	"shieldd/internal/schedule"
	"shieldd/internal/store"
)

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(&logging.Config{Level: logging.LevelError, Output: "stderr"})
	require.NoError(t, err)
	return log
}

// startDaemon brings up a full server with a real controller on a
// temporary socket, and returns a connected client.
func startDaemon(t *testing.T) (*Client, *protection.Controller) {
	t.Helper()

	// t.TempDir paths can exceed the unix socket path limit.
	dir, err := os.MkdirTemp("", "shieldd-ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "ctl.sock")

	log := quietLogger(t)
	st := store.NewMemory()

	ctrl, err := protection.New(st, challenge.NewSeeded(1), nil, log, protection.Options{})
	require.NoError(t, err)

	sched, err := schedule.New(ctrl, st, nil, log)
	require.NoError(t, err)

	srv, err := NewServer(ServerConfig{SocketPath: socketPath, MaxConnections: 4},
		NewDaemonHandler(ctrl, sched, log), log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait for the socket to appear.
	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	client := NewClient(socketPath)
	t.Cleanup(func() { client.Close() })
	return client, ctrl
}

func TestPing(t *testing.T) {
	client, _ := startDaemon(t)
	require.NoError(t, client.Ping())
}

func TestActivateAndStatus(t *testing.T) {
	client, _ := startDaemon(t)

	resp, err := client.Call(MsgActivate, ActivatePayload{DurationSeconds: 3600})
	require.NoError(t, err)
	require.Equal(t, MsgActivateResp, resp.Header.Type)

	var sess protection.Session
	require.NoError(t, resp.Unmarshal(&sess))
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, protection.ActivationManual, sess.ActivationType)
	require.NotNil(t, sess.ScheduledEndTime)

	resp, err = client.Call(MsgStatusRequest, nil)
	require.NoError(t, err)
	var status StatusPayload
	require.NoError(t, resp.Unmarshal(&status))
	assert.True(t, status.Active)
	assert.Equal(t, sess.ID, status.SessionID)
	require.NotNil(t, status.RemainingSeconds)
	assert.LessOrEqual(t, *status.RemainingSeconds, int64(3600))

	// A second activate reports the same running session.
	resp, err = client.Call(MsgActivate, ActivatePayload{DurationSeconds: 60})
	require.NoError(t, err)
	var again protection.Session
	require.NoError(t, resp.Unmarshal(&again))
	assert.Equal(t, sess.ID, again.ID)
}

func TestActivateRejectsNegativeDuration(t *testing.T) {
	client, _ := startDaemon(t)

	_, err := client.Call(MsgActivate, ActivatePayload{DurationSeconds: -5})
	require.Error(t, err)
	var de *DaemonError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "bad_request", de.Code)
}

func TestRecordAttemptOverIPC(t *testing.T) {
	client, ctrl := startDaemon(t)

	// Outside a session recording is a silent no-op.
	resp, err := client.Call(MsgRecordAttempt, RecordAttemptPayload{
		AttemptType: "app", TargetName: "Untappd", TargetIdentifier: "com.untappd", Outcome: "blocked",
	})
	require.NoError(t, err)
	assert.Equal(t, MsgRecordAttemptResp, resp.Header.Type)
	assert.Empty(t, resp.Payload)

	_, err = client.Call(MsgActivate, ActivatePayload{DurationSeconds: 600})
	require.NoError(t, err)

	resp, err = client.Call(MsgRecordAttempt, RecordAttemptPayload{
		AttemptType: "call", TargetName: "Dealer", TargetIdentifier: "+15551234", Outcome: "blocked",
	})
	require.NoError(t, err)
	var attempt protection.BlockedAttempt
	require.NoError(t, resp.Unmarshal(&attempt))
	assert.NotEmpty(t, attempt.ID)
	assert.Equal(t, protection.AttemptCall, attempt.AttemptType)

	_, sess := ctrl.SessionState()
	require.NotNil(t, sess)
	assert.Len(t, sess.BlockedAttempts, 1)
}

// extremeAnswer derives the expected answer from an extreme typing
// prompt of the form: Type this backwards: "phrase".
func extremeAnswer(t *testing.T, prompt string) string {
	t.Helper()
	i := strings.Index(prompt, `"`)
	require.Greater(t, i, 0, "prompt %q has no quoted phrase", prompt)
	phrase, err := strconv.Unquote(prompt[i:])
	require.NoError(t, err)
	runes := []rune(phrase)
	for l, r := 0, len(runes)-1; l < r; l, r = l+1, r-1 {
		runes[l], runes[r] = runes[r], runes[l]
	}
	return string(runes)
}

func TestDeactivationFlowOverIPC(t *testing.T) {
	client, _ := startDaemon(t)

	p := policy.Default()
	p.TestDifficulty = challenge.Extreme
	_, err := client.Call(MsgSetPolicy, p)
	require.NoError(t, err)

	_, err = client.Call(MsgActivate, ActivatePayload{DurationSeconds: 3600})
	require.NoError(t, err)

	resp, err := client.Call(MsgRequestDeactivation, nil)
	require.NoError(t, err)
	var ch ChallengePayload
	require.NoError(t, resp.Unmarshal(&ch))
	assert.Equal(t, "typing", ch.ChallengeType)

	// A wrong answer returns a fresh challenge with a different prompt.
	resp, err = client.Call(MsgAnswerChallenge, AnswerPayload{Answer: "wrong"})
	require.NoError(t, err)
	var result AnswerResultPayload
	require.NoError(t, resp.Unmarshal(&result))
	assert.False(t, result.Passed)
	require.NotNil(t, result.Next)
	assert.NotEqual(t, ch.Prompt, result.Next.Prompt)

	// Answer the reissued challenge correctly.
	resp, err = client.Call(MsgAnswerChallenge, AnswerPayload{
		Answer: extremeAnswer(t, result.Next.Prompt),
	})
	require.NoError(t, err)
	result = AnswerResultPayload{}
	require.NoError(t, resp.Unmarshal(&result))
	assert.True(t, result.Passed)

	resp, err = client.Call(MsgStatusRequest, nil)
	require.NoError(t, err)
	var status StatusPayload
	require.NoError(t, resp.Unmarshal(&status))
	assert.False(t, status.Active)
}

func TestIsBlockedOverIPC(t *testing.T) {
	client, _ := startDaemon(t)

	p := policy.Default()
	p.BlockedAppIDs = []string{"com.untappd"}
	p.EmergencyContactIDs = []string{"sponsor"}
	p.BlockedContactIDs = []string{"sponsor", "dealer"}
	_, err := client.Call(MsgSetPolicy, p)
	require.NoError(t, err)

	check := func(kind, id string) bool {
		resp, err := client.Call(MsgIsBlocked, IsBlockedPayload{TargetKind: kind, TargetID: id})
		require.NoError(t, err)
		var r IsBlockedResultPayload
		require.NoError(t, resp.Unmarshal(&r))
		return r.Blocked
	}

	// Inactive: nothing is blocked.
	assert.False(t, check("app", "com.untappd"))

	_, err = client.Call(MsgActivate, ActivatePayload{DurationSeconds: 600})
	require.NoError(t, err)

	assert.True(t, check("app", "com.untappd"))
	assert.False(t, check("app", "com.maps"))
	assert.True(t, check("contact", "dealer"))
	assert.False(t, check("contact", "sponsor"), "emergency contact always reachable")

	_, err = client.Call(MsgIsBlocked, IsBlockedPayload{TargetKind: "widget", TargetID: "x"})
	require.Error(t, err)
}

func TestSchedulesOverIPC(t *testing.T) {
	client, _ := startDaemon(t)

	in := []schedule.Schedule{{
		Weekdays:  []int{5, 6},
		StartTime: "21:00",
		EndTime:   "02:00",
		Enabled:   true,
	}}
	_, err := client.Call(MsgSetSchedules, in)
	require.NoError(t, err)

	resp, err := client.Call(MsgListSchedules, nil)
	require.NoError(t, err)
	var out []schedule.Schedule
	require.NoError(t, resp.Unmarshal(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "21:00", out[0].StartTime)

	_, err = client.Call(MsgSetSchedules, []schedule.Schedule{{
		Weekdays: []int{9}, StartTime: "21:00", EndTime: "22:00", Enabled: true,
	}})
	require.Error(t, err)
}

func TestHistoryAndPolicyOverIPC(t *testing.T) {
	client, _ := startDaemon(t)

	_, err := client.Call(MsgActivate, ActivatePayload{DurationSeconds: 600})
	require.NoError(t, err)
	_, err = client.Call(MsgEmergencyOverride, nil)
	require.NoError(t, err)

	resp, err := client.Call(MsgGetHistory, nil)
	require.NoError(t, err)
	var history []protection.Session
	require.NoError(t, resp.Unmarshal(&history))
	require.Len(t, history, 1)
	assert.Equal(t, protection.EndEmergencyOverride, history[0].EndReason)

	resp, err = client.Call(MsgGetPolicy, nil)
	require.NoError(t, err)
	var p policy.UserPolicy
	require.NoError(t, resp.Unmarshal(&p))
	assert.Equal(t, challenge.Medium, p.TestDifficulty)
}

func TestManualStopDeniedByDefaultPolicy(t *testing.T) {
	client, _ := startDaemon(t)

	_, err := client.Call(MsgActivate, ActivatePayload{DurationSeconds: 600})
	require.NoError(t, err)

	_, err = client.Call(MsgManualStop, nil)
	require.Error(t, err)
	var de *DaemonError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "not_permitted", de.Code)
}

func TestUnknownTypeGetsErrorResponse(t *testing.T) {
	client, _ := startDaemon(t)

	_, err := client.Call(MessageType(0xffff), nil)
	require.Error(t, err)
	var de *DaemonError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "unknown_type", de.Code)

	// The connection survives the unknown request.
	require.NoError(t, client.Ping())
}

func TestReloadWithoutConfigFile(t *testing.T) {
	client, _ := startDaemon(t)

	_, err := client.Call(MsgReload, nil)
	require.Error(t, err)
	var de *DaemonError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "unavailable", de.Code)
}
