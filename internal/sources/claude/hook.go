package claude

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoTranscript = errors.New("claude hook: payload has no transcript_path")

// HookInput is the JSON document Claude Code writes to a hook's stdin.
type HookInput struct {
	TranscriptPath string `json:"transcript_path"`
	SessionID      string `json:"session_id"`
	HookEventName  string `json:"hook_event_name"`
}

func ParseHookInput(raw []byte) (HookInput, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return HookInput{}, ErrNoTranscript
	}
	var in HookInput
	if err := json.Unmarshal([]byte(trimmed), &in); err != nil {
		return HookInput{}, fmt.Errorf("claude hook: decode payload: %w", err)
	}
	in.TranscriptPath = strings.TrimSpace(in.TranscriptPath)
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.HookEventName = strings.TrimSpace(in.HookEventName)
	if in.TranscriptPath == "" {
		return in, ErrNoTranscript
	}
	return in, nil
}
