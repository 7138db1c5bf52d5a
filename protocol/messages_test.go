package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseMessage_SystemInit(t *testing.T) {
	line := []byte(`{
		"type":"system","subtype":"init","session_id":"s1",
		"model":"sonnet","cwd":"/tmp/work","permissionMode":"default",
		"claude_code_version":"2.1.0",
		"tools":["Bash","Read"],"slash_commands":["compact"],
		"plugins":[{"name":"review","path":"/plugins/review"}],
		"parent_tool_use_id":null
	}`)

	msg, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sys, ok := msg.(SystemMessage)
	if !ok {
		t.Fatalf("expected SystemMessage, got %T", msg)
	}
	if sys.Subtype != SystemSubtypeInit {
		t.Errorf("Subtype = %q, want %q", sys.Subtype, SystemSubtypeInit)
	}
	if sys.SessionID != "s1" {
		t.Errorf("SessionID = %q, want %q", sys.SessionID, "s1")
	}
	if sys.AgentVersion != "2.1.0" {
		t.Errorf("AgentVersion = %q, want %q", sys.AgentVersion, "2.1.0")
	}
	if len(sys.Plugins) != 1 || sys.Plugins[0].Name != "review" {
		t.Errorf("Plugins = %v, want one named review", sys.Plugins)
	}
}

func TestParseMessage_UnknownTypeSkipped(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"telemetry","payload":{}}`))
	if err != nil {
		t.Fatalf("expected no error for unknown type, got: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message for unknown type, got: %v", msg)
	}
}

func TestParseMessage_KeepAlive(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"keep_alive"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := msg.(KeepAlive); !ok {
		t.Fatalf("expected KeepAlive, got %T", msg)
	}
}

func TestParseMessage_Result(t *testing.T) {
	line := []byte(`{
		"type":"result","subtype":"success","session_id":"s1",
		"result":"done","total_cost_usd":0.042,"num_turns":3,
		"duration_ms":5120,"duration_api_ms":4200,"is_error":false,
		"usage":{"input_tokens":100,"output_tokens":50,"cache_read_input_tokens":10,"cache_creation_input_tokens":5},
		"modelUsage":{"sonnet":{"inputTokens":100,"outputTokens":50,"costUSD":0.042}}
	}`)

	msg, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, ok := msg.(ResultMessage)
	if !ok {
		t.Fatalf("expected ResultMessage, got %T", msg)
	}
	if res.Subtype != ResultSubtypeSuccess {
		t.Errorf("Subtype = %q, want %q", res.Subtype, ResultSubtypeSuccess)
	}
	if res.TotalCostUSD != 0.042 {
		t.Errorf("TotalCostUSD = %v, want 0.042", res.TotalCostUSD)
	}
	if res.Usage.InputTokens != 100 {
		t.Errorf("InputTokens = %d, want 100", res.Usage.InputTokens)
	}
	if mu, ok := res.ModelUsage["sonnet"]; !ok || mu.CostUSD != 0.042 {
		t.Errorf("ModelUsage[sonnet] = %+v, want costUSD 0.042", mu)
	}
}

func TestParseMessage_MalformedJSON(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestFlexibleContent_String(t *testing.T) {
	var mc MessageContent
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hello","stop_reason":null}`), &mc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, ok := mc.Content.AsString()
	if !ok {
		t.Fatal("expected string content")
	}
	if s != "hello" {
		t.Errorf("content = %q, want %q", s, "hello")
	}
	if _, ok := mc.Content.AsBlocks(); ok {
		t.Error("string content should not parse as blocks")
	}
}

func TestFlexibleContent_Blocks(t *testing.T) {
	var mc MessageContent
	raw := `{"role":"assistant","content":[{"type":"text","text":"hi"},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}],"stop_reason":null}`
	if err := json.Unmarshal([]byte(raw), &mc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blocks, ok := mc.Content.AsBlocks()
	if !ok {
		t.Fatal("expected block content")
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[1].BlockType() != ContentBlockTypeToolUse {
		t.Errorf("second block = %s, want tool_use", blocks[1].BlockType())
	}
}

func TestUserMessageToSend_Marshal(t *testing.T) {
	env := NewUserMessage([]ContentBlock{NewTextBlock("run the tests")})

	b, err := env.Marshal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := string(b)
	if !strings.Contains(s, `"type":"user"`) {
		t.Errorf("envelope missing type: %s", s)
	}
	if !strings.Contains(s, `"role":"user"`) {
		t.Errorf("envelope missing role: %s", s)
	}
	if !strings.Contains(s, `"run the tests"`) {
		t.Errorf("envelope missing text: %s", s)
	}
}
