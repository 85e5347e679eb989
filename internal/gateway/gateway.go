package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/operator/internal/agent"
)

// Notifier delivers a text message to a chat or channel.
type Notifier interface {
	Send(chatID string, text string) error
}

// Messenger is a two-way chat gateway: it accepts goals from chat and
// reports their outcome.
type Messenger interface {
	Notifier
	// Start begins the message listening loop. Goals started from chat run
	// under ctx.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// GoalRunner is what a gateway hands incoming goals to.
type GoalRunner interface {
	ExecuteGoalAutonomously(ctx context.Context, goal, initialScreenshot string, maxIterations int) agent.GoalResult
}

const helpText = "Send a goal to run it, e.g. \"goal open the inbox\"."

// parseGoal extracts the goal from a chat message. Accepted forms are
// "/goal text", "!goal text" and "goal text".
func parseGoal(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"/goal", "!goal", "goal"} {
		rest, ok := strings.CutPrefix(text, prefix)
		if !ok || (rest != "" && rest[0] != ' ') {
			continue
		}
		goal := strings.TrimSpace(rest)
		if goal == "" {
			return "", false
		}
		return goal, true
	}
	return "", false
}

// authorized reports whether chatID may start goals. Only the configured
// chat may; with none configured, no chat can.
func authorized(allowed, chatID string) bool {
	return allowed != "" && chatID == allowed
}

// route answers a message from chatID. It reports false when the message
// must be dropped without a reply.
func route(ctx context.Context, runner GoalRunner, maxIterations int, allowed, chatID, text string) (string, bool) {
	if !authorized(allowed, chatID) {
		log.Printf("Gateway: ignoring message from unauthorized chat %s", chatID)
		return "", false
	}
	return handleMessage(ctx, runner, maxIterations, text), true
}

// handleMessage runs the goal in text, if any, and returns the reply.
func handleMessage(ctx context.Context, runner GoalRunner, maxIterations int, text string) string {
	goal, ok := parseGoal(text)
	if !ok {
		return helpText
	}
	res := runner.ExecuteGoalAutonomously(ctx, goal, "", maxIterations)
	return FormatGoalResult(res)
}

// FormatGoalResult renders an autonomous run for chat.
func FormatGoalResult(res agent.GoalResult) string {
	var sb strings.Builder
	status := "not achieved"
	switch {
	case res.Achieved:
		status = "achieved"
	case res.Cancelled:
		status = "cancelled"
	case res.StoppedEarly:
		status = "stopped after repeated failures"
	}
	fmt.Fprintf(&sb, "Goal: %s\nStatus: %s after %d iteration(s)\n", res.Goal, status, res.Iterations)

	for _, it := range res.History {
		if it.Error != "" {
			fmt.Fprintf(&sb, "%d. error: %s\n", it.Iteration, it.Error)
			continue
		}
		if it.Cycle == nil {
			continue
		}
		outcome := "failed"
		if it.Cycle.Success {
			outcome = "ok"
		}
		fmt.Fprintf(&sb, "%d. %s, confidence %.2f, %d action(s), %s\n",
			it.Iteration, it.Cycle.Plan.Strategy, it.Cycle.Confidence, len(it.Cycle.Outcomes), outcome)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Target pairs a notifier with its default destination.
type Target struct {
	Notifier Notifier
	ChatID   string
}

// Broadcast sends text to every target.
func Broadcast(targets []Target, text string) error {
	var errs []error
	for _, t := range targets {
		if err := t.Notifier.Send(t.ChatID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
