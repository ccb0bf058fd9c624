package domain

import (
	"testing"
	"time"
)

func TestExecutionStatus_Values(t *testing.T) {
	tests := []struct {
		status   ExecutionStatus
		want     string
		terminal bool
	}{
		{ExecutionStatusPending, "pending", false},
		{ExecutionStatusRunning, "running", false},
		{ExecutionStatusCompleted, "completed", true},
		{ExecutionStatusFailed, "failed", true},
		{ExecutionStatusCancelled, "cancelled", true},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("ExecutionStatus = %q, want %q", tt.status, tt.want)
			}
			if tt.status.IsTerminal() != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", tt.status.IsTerminal(), tt.terminal)
			}
		})
	}
}

func TestExecution_CloneIsIndependent(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := Execution{
		ActionConfig:  map[string]any{"url": "http://a"},
		ExecutionData: map[string]any{"amount": 10},
		StartedAt:     &started,
	}

	c := orig.Clone()
	c.ActionConfig["url"] = "http://b"
	c.ExecutionData["amount"] = 20
	*c.StartedAt = started.Add(time.Hour)

	if orig.ActionConfig["url"] != "http://a" {
		t.Errorf("ActionConfig mutated through clone: %v", orig.ActionConfig)
	}
	if orig.ExecutionData["amount"] != 10 {
		t.Errorf("ExecutionData mutated through clone: %v", orig.ExecutionData)
	}
	if !orig.StartedAt.Equal(started) {
		t.Errorf("StartedAt mutated through clone: %v", orig.StartedAt)
	}
}

func TestCloneMap_Deep(t *testing.T) {
	orig := map[string]any{
		"order": map[string]any{"total": 50},
		"items": []any{map[string]any{"sku": "a"}},
	}

	c := CloneMap(orig)
	c["order"].(map[string]any)["total"] = 100
	c["items"].([]any)[0].(map[string]any)["sku"] = "b"

	if orig["order"].(map[string]any)["total"] != 50 {
		t.Errorf("nested map mutated through clone: %v", orig["order"])
	}
	if orig["items"].([]any)[0].(map[string]any)["sku"] != "a" {
		t.Errorf("nested slice mutated through clone: %v", orig["items"])
	}
	if CloneMap(nil) != nil {
		t.Error("CloneMap(nil) should be nil")
	}
}
