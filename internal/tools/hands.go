package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CommandRunner runs an external program and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// HandsTool controls the desktop (mouse, keyboard, screen) through xdotool
// and captures the screen with ffmpeg, falling back to scrot.
type HandsTool struct {
	ScreenshotDir string
	Run           CommandRunner
}

func NewHandsTool(screenshotDir string) *HandsTool {
	return &HandsTool{ScreenshotDir: screenshotDir, Run: execRunner}
}

func (h *HandsTool) Domain() ActionType { return ActionHands }

func (h *HandsTool) Tools() []string {
	return []string{
		"mouse_move", "click", "drag", "scroll", "key_press", "hotkey", "type",
		"mouse_position", "screen_size", "screenshot", "run_command",
	}
}

func (h *HandsTool) Execute(ctx context.Context, tool string, params Params) (any, error) {
	switch tool {
	case "screenshot":
		return h.captureDesktop(ctx)
	case "run_command":
		return h.runCommand(ctx, params)
	case "mouse_position":
		out, err := h.xdotool(ctx, "getmouselocation", "--shell")
		if err != nil {
			return nil, err
		}
		vals := parseShellVars(out)
		return map[string]any{"x": vals["X"], "y": vals["Y"]}, nil
	case "screen_size":
		out, err := h.xdotool(ctx, "getdisplaygeometry")
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(string(out))
		if len(fields) != 2 {
			return nil, fmt.Errorf("unexpected display geometry %q", strings.TrimSpace(string(out)))
		}
		w, _ := strconv.Atoi(fields[0])
		ht, _ := strconv.Atoi(fields[1])
		return map[string]any{"width": w, "height": ht}, nil
	}

	var args []string
	switch tool {
	case "mouse_move":
		x, y, err := point(params, "x", "y")
		if err != nil {
			return nil, err
		}
		args = []string{"mousemove", x, y}
	case "drag":
		sx, sy, err := point(params, "start_x", "start_y")
		if err != nil {
			return nil, err
		}
		ex, ey, err := point(params, "end_x", "end_y")
		if err != nil {
			return nil, err
		}
		args = []string{"mousemove", sx, sy, "mousedown", "1", "mousemove", ex, ey, "mouseup", "1"}
	case "scroll":
		// xdotool wheel buttons: 4 scrolls up, 5 scrolls down.
		button := "5"
		if params.String("direction") == "up" {
			button = "4"
		}
		clicks := params.Int("clicks", 3)
		if clicks < 1 {
			clicks = 1
		}
		args = []string{"click", "--repeat", strconv.Itoa(clicks), button}
	case "hotkey":
		keys, err := hotkeyChord(params["keys"])
		if err != nil {
			return nil, err
		}
		args = []string{"key", keys}
	case "click":
		button := params.String("button")
		if button == "" {
			button = strconv.Itoa(params.Int("button", 1))
		}
		args = []string{"click", button}
	case "key_press":
		key, err := params.Require("key")
		if err != nil {
			return nil, err
		}
		args = []string{"key", key}
	case "type":
		text, err := params.Require("text")
		if err != nil {
			return nil, err
		}
		args = []string{"type", "--", text}
	default:
		return nil, fmt.Errorf("%w: hands.%s", ErrUnknownTool, tool)
	}

	if _, err := h.xdotool(ctx, args...); err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "action": tool}, nil
}

func (h *HandsTool) xdotool(ctx context.Context, args ...string) ([]byte, error) {
	out, err := h.Run(ctx, "xdotool", args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("xdotool is not installed: %w", err)
		}
		return nil, fmt.Errorf("xdotool %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// point reads a screen coordinate pair. Negative coordinates are rejected.
func point(params Params, xKey, yKey string) (string, string, error) {
	x, y := params.Int(xKey, 0), params.Int(yKey, 0)
	if x < 0 || y < 0 {
		return "", "", fmt.Errorf("coordinates out of bounds: (%d, %d)", x, y)
	}
	return strconv.Itoa(x), strconv.Itoa(y), nil
}

// hotkeyChord turns ["ctrl", "s"] or "ctrl+s" into xdotool's "ctrl+s".
func hotkeyChord(v any) (string, error) {
	var keys []string
	switch k := v.(type) {
	case string:
		keys = strings.Split(k, "+")
	case []string:
		keys = k
	case []any:
		for _, item := range k {
			keys = append(keys, fmt.Sprint(item))
		}
	}
	var clean []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return "", fmt.Errorf("%w: keys", ErrMissingParameter)
	}
	return strings.Join(clean, "+"), nil
}

func parseShellVars(out []byte) map[string]int {
	vals := make(map[string]int)
	for _, line := range strings.Split(string(out), "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			vals[k] = n
		}
	}
	return vals
}

func (h *HandsTool) captureDesktop(ctx context.Context) (any, error) {
	if err := os.MkdirAll(h.ScreenshotDir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(h.ScreenshotDir, fmt.Sprintf("desktop_%d.png", time.Now().UnixMilli()))

	out, err := h.Run(ctx, "ffmpeg", "-f", "x11grab", "-i", ":0.0", "-frames:v", "1", path, "-y")
	if err != nil {
		out, err = h.Run(ctx, "scrot", path)
		if err != nil {
			return nil, fmt.Errorf("capture desktop: %w: %s", err, strings.TrimSpace(string(out)))
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	return map[string]any{"status": "captured", "path": absPath}, nil
}

func (h *HandsTool) runCommand(ctx context.Context, params Params) (any, error) {
	command, err := params.Require("command")
	if err != nil {
		return nil, err
	}
	out, err := h.Run(ctx, "bash", "-c", command)
	output := strings.TrimSpace(string(out))
	if err != nil {
		return nil, fmt.Errorf("command failed: %w: %s", err, output)
	}
	return map[string]any{"status": "ok", "output": output}, nil
}
