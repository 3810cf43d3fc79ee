package bridge

import (
	"testing"
)

func TestBuildSingleTransaction(t *testing.T) {
	response := `{"ok": true, "data": {"name": "Commit for coolname.eth", "tx": {"to": "0x253553366Da8546fC250F225fe3d25d0C782303b", "data": "0xdeadbeef", "value": "0x0"}, "wait_seconds": 60, "session_id": "S1"}}`

	directive := Build("ens commit", "commit", response)
	if directive == nil {
		t.Fatal("expected a directive for a single-tx response")
	}
	if directive.Operation != "Commit for coolname.eth" {
		t.Fatalf("unexpected operation: %s", directive.Operation)
	}
	if directive.OperationType != "commit" {
		t.Fatalf("unexpected operation type: %s", directive.OperationType)
	}
	if directive.WaitSeconds != 60 {
		t.Fatalf("expected wait_seconds 60, got %d", directive.WaitSeconds)
	}
	if directive.SessionToken != "S1" {
		t.Fatalf("expected session token S1, got %s", directive.SessionToken)
	}
	if directive.Tx["data"] != "0xdeadbeef" {
		t.Fatalf("tx payload not carried through: %+v", directive.Tx)
	}
	if len(directive.Steps) != 0 {
		t.Fatalf("single tx must not carry steps, got %d", len(directive.Steps))
	}

	call := directive.ToolCall()
	if call.Name != ToolName {
		t.Fatalf("unexpected tool name: %s", call.Name)
	}
	if call.Arguments["wait_seconds"] != int64(60) {
		t.Fatalf("unexpected wait_seconds argument: %v", call.Arguments["wait_seconds"])
	}
	if call.Arguments["session_id"] != "S1" {
		t.Fatalf("unexpected session_id argument: %v", call.Arguments["session_id"])
	}
	if _, ok := call.Arguments["steps"]; ok {
		t.Fatal("single tx arguments must not include steps")
	}
}

func TestBuildMultiStepSequence(t *testing.T) {
	response := `{"ok": true, "data": {"transactions": [{"step": "a", "tx": {}}, {"step": "b", "tx": {}}]}}`

	directive := Build("subname", "create_subname", response)
	if directive == nil {
		t.Fatal("expected a directive for a multi-step response")
	}
	if directive.Operation != "a" {
		t.Fatalf("directive must reference the first step only, got %s", directive.Operation)
	}
	if len(directive.Steps) != 2 {
		t.Fatalf("expected the full step list attached, got %d", len(directive.Steps))
	}
	if directive.Steps[0].Step != "a" || directive.Steps[1].Step != "b" {
		t.Fatalf("steps not attached verbatim: %+v", directive.Steps)
	}

	call := directive.ToolCall()
	steps, ok := call.Arguments["steps"].([]Step)
	if !ok || len(steps) != 2 {
		t.Fatalf("unexpected steps argument: %v", call.Arguments["steps"])
	}
}

func TestBuildNoDirective(t *testing.T) {
	cases := map[string]string{
		"failure":       `{"ok": false}`,
		"error payload": `{"ok": false, "error": {"code": "MISSING_PARAM", "message": "label is required"}}`,
		"empty steps":   `{"ok": true, "data": {"transactions": []}}`,
		"no payload":    `{"ok": true, "data": {}}`,
		"not json":      `upstream exploded`,
		"json array":    `[1, 2, 3]`,
	}
	for name, response := range cases {
		if directive := Build("op", "transaction", response); directive != nil {
			t.Fatalf("%s: expected no directive, got %+v", name, directive)
		}
	}
}

func TestBuildMalformedTxPassesThrough(t *testing.T) {
	// 缺少 to 字段的交易不做校验，原样透传。
	response := `{"ok": true, "data": {"tx": {"data": "0x01"}}}`

	directive := Build("renew", "renew", response)
	if directive == nil {
		t.Fatal("expected a directive despite the missing target field")
	}
	if _, ok := directive.Tx["to"]; ok {
		t.Fatal("tx must pass through unmodified")
	}
	if directive.Operation != "renew" {
		t.Fatalf("expected caller label fallback, got %s", directive.Operation)
	}
}
