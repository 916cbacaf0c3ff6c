package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"shieldd/internal/ipc"
	"shieldd/internal/policy"
	"shieldd/internal/protection"
	"shieldd/internal/schedule"
)

// printJSON dumps a response payload when -json is set. Returns true
// if it printed, so callers can skip their human-readable output.
func printJSON(resp *ipc.Message) bool {
	if !*jsonOut {
		return false
	}
	if len(resp.Payload) == 0 {
		fmt.Println("{}")
		return true
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, resp.Payload, "", "  "); err != nil {
		fmt.Println(string(resp.Payload))
		return true
	}
	fmt.Println(buf.String())
	return true
}

func cmdStatus(client *ipc.Client) error {
	resp, err := client.Call(ipc.MsgStatusRequest, nil)
	if err != nil {
		return err
	}
	if printJSON(resp) {
		return nil
	}

	var s ipc.StatusPayload
	if err := resp.Unmarshal(&s); err != nil {
		return err
	}

	if !s.Active {
		fmt.Println("Protection: inactive")
	} else {
		fmt.Println("Protection: ACTIVE")
		fmt.Printf("  Session:   %s (%s)\n", s.SessionID, s.ActivationType)
		fmt.Printf("  Started:   %s\n", s.StartTime.Local().Format(time.RFC1123))
		if s.RemainingSeconds != nil {
			fmt.Printf("  Remaining: %s\n", time.Duration(*s.RemainingSeconds)*time.Second)
		} else {
			fmt.Println("  Remaining: until stopped")
		}
		fmt.Printf("  Attempts:  %d\n", s.AttemptCount)
	}
	if s.NextTrigger != nil {
		fmt.Printf("Next scheduled activation: %s\n", s.NextTrigger.Local().Format(time.RFC1123))
	}
	return nil
}

func cmdActivate(client *ipc.Client, args []string) error {
	var seconds int64
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}
		if d <= 0 {
			return fmt.Errorf("duration must be positive")
		}
		seconds = int64(d / time.Second)
	}

	resp, err := client.Call(ipc.MsgActivate, ipc.ActivatePayload{
		DurationSeconds: seconds,
		ActivationType:  "manual",
	})
	if err != nil {
		return err
	}
	if printJSON(resp) {
		return nil
	}

	var sess protection.Session
	if err := resp.Unmarshal(&sess); err != nil {
		return err
	}
	if sess.ScheduledEndTime != nil {
		fmt.Printf("Protection active until %s\n", sess.ScheduledEndTime.Local().Format(time.RFC1123))
	} else {
		fmt.Println("Protection active with no scheduled end")
	}
	return nil
}

// cmdTest runs the interactive sobriety test loop.
func cmdTest(client *ipc.Client) error {
	resp, err := client.Call(ipc.MsgRequestDeactivation, nil)
	if err != nil {
		return err
	}
	var ch ipc.ChallengePayload
	if err := resp.Unmarshal(&ch); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s\n> ", ch.Prompt)
		answer, err := reader.ReadString('\n')
		if err != nil {
			return err
		}

		resp, err := client.Call(ipc.MsgAnswerChallenge, ipc.AnswerPayload{
			Answer: strings.TrimSpace(answer),
		})
		if err != nil {
			return err
		}
		var result ipc.AnswerResultPayload
		if err := resp.Unmarshal(&result); err != nil {
			return err
		}

		switch {
		case result.Passed:
			fmt.Println("Test passed. Protection ended.")
			return nil
		case result.Exhausted:
			fmt.Println("Too many wrong answers. Protection stays active.")
			return nil
		case result.Next != nil:
			fmt.Println("Incorrect. Try again.")
			ch = *result.Next
		default:
			return fmt.Errorf("unexpected response from daemon")
		}
	}
}

func cmdOverride(client *ipc.Client) error {
	if _, err := client.Call(ipc.MsgEmergencyOverride, nil); err != nil {
		return err
	}
	fmt.Println("Emergency override applied. Protection ended.")
	return nil
}

func cmdStop(client *ipc.Client) error {
	if _, err := client.Call(ipc.MsgManualStop, nil); err != nil {
		return err
	}
	fmt.Println("Protection stopped.")
	return nil
}

func cmdAttempt(client *ipc.Client, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: shieldctl attempt <app|message|call> <name> <identifier>")
	}

	resp, err := client.Call(ipc.MsgRecordAttempt, ipc.RecordAttemptPayload{
		AttemptType:      args[0],
		TargetName:       args[1],
		TargetIdentifier: args[2],
		Outcome:          "blocked",
	})
	if err != nil {
		return err
	}
	if printJSON(resp) {
		return nil
	}
	if len(resp.Payload) == 0 {
		fmt.Println("No active session; attempt not recorded.")
		return nil
	}
	fmt.Println("Attempt recorded.")
	return nil
}

func cmdCheck(client *ipc.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: shieldctl check <app|contact> <identifier>")
	}

	resp, err := client.Call(ipc.MsgIsBlocked, ipc.IsBlockedPayload{
		TargetKind: args[0],
		TargetID:   args[1],
	})
	if err != nil {
		return err
	}
	var r ipc.IsBlockedResultPayload
	if err := resp.Unmarshal(&r); err != nil {
		return err
	}
	if r.Blocked {
		fmt.Printf("%s is blocked\n", args[1])
	} else {
		fmt.Printf("%s is allowed\n", args[1])
	}
	return nil
}

func cmdHistory(client *ipc.Client) error {
	resp, err := client.Call(ipc.MsgGetHistory, nil)
	if err != nil {
		return err
	}
	if printJSON(resp) {
		return nil
	}

	var history []protection.Session
	if err := resp.Unmarshal(&history); err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("No completed sessions.")
		return nil
	}

	for _, s := range history {
		end := "?"
		if s.ActualEndTime != nil {
			end = s.ActualEndTime.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%s  %s → %s  %-18s  %d attempts\n",
			s.ID[:8],
			s.StartTime.Local().Format("2006-01-02 15:04"),
			end,
			s.EndReason,
			len(s.BlockedAttempts))
	}
	return nil
}

func cmdPolicy(client *ipc.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: shieldctl policy <show|set>")
	}

	switch args[0] {
	case "show":
		resp, err := client.Call(ipc.MsgGetPolicy, nil)
		if err != nil {
			return err
		}
		if printJSON(resp) {
			return nil
		}
		var p policy.UserPolicy
		if err := resp.Unmarshal(&p); err != nil {
			return err
		}
		fmt.Printf("Blocked apps:       %s\n", joinOrNone(p.BlockedAppIDs))
		fmt.Printf("Blocked contacts:   %s\n", joinOrNone(p.BlockedContactIDs))
		fmt.Printf("Emergency contacts: %s\n", joinOrNone(p.EmergencyContactIDs))
		fmt.Printf("Test difficulty:    %s\n", p.TestDifficulty)
		if p.DefaultDurationSeconds != nil {
			fmt.Printf("Default duration:   %s\n", time.Duration(*p.DefaultDurationSeconds)*time.Second)
		} else {
			fmt.Println("Default duration:   none")
		}
		fmt.Printf("Notify on block:    %t\n", p.NotifyOnBlock)
		fmt.Printf("Allow manual stop:  %t\n", p.AllowManualStop)
		return nil
	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: shieldctl policy set <file.json>")
		}
		var p policy.UserPolicy
		if err := readJSONFile(args[1], &p); err != nil {
			return err
		}
		if _, err := client.Call(ipc.MsgSetPolicy, p); err != nil {
			return err
		}
		fmt.Println("Policy updated.")
		return nil
	default:
		return fmt.Errorf("unknown policy subcommand: %s", args[0])
	}
}

func cmdSchedule(client *ipc.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: shieldctl schedule <list|set>")
	}

	switch args[0] {
	case "list":
		resp, err := client.Call(ipc.MsgListSchedules, nil)
		if err != nil {
			return err
		}
		if printJSON(resp) {
			return nil
		}
		var schedules []schedule.Schedule
		if err := resp.Unmarshal(&schedules); err != nil {
			return err
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules.")
			return nil
		}
		for i, s := range schedules {
			state := "enabled"
			if !s.Enabled {
				state = "disabled"
			}
			fmt.Printf("%d: %s-%s on %s (%s)\n", i, s.StartTime, s.EndTime, weekdayNames(s.Weekdays), state)
		}
		return nil
	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: shieldctl schedule set <file.json>")
		}
		var schedules []schedule.Schedule
		if err := readJSONFile(args[1], &schedules); err != nil {
			return err
		}
		if _, err := client.Call(ipc.MsgSetSchedules, schedules); err != nil {
			return err
		}
		fmt.Println("Schedules updated.")
		return nil
	default:
		return fmt.Errorf("unknown schedule subcommand: %s", args[0])
	}
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	return strings.Join(ids, ", ")
}

func weekdayNames(days []int) string {
	names := []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	out := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < 7 {
			out = append(out, names[d])
		}
	}
	return strings.Join(out, ",")
}
