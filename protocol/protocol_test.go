package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolsListElidesCursorWhenAbsent(t *testing.T) {
	method, params := ToolsList("")
	assert.Equal(t, "tools/list", method)
	assert.Nil(t, params)
}

func TestToolsListKeepsCursorWhenPresent(t *testing.T) {
	_, params := ToolsList("page-2")
	assert.Equal(t, "page-2", params["cursor"])
}

func TestToolsCallElidesEmptyArguments(t *testing.T) {
	_, params := ToolsCall("echo", nil)
	_, hasArgs := params["arguments"]
	assert.False(t, hasArgs)
	assert.Equal(t, "echo", params["name"])
}

func TestInitializeShape(t *testing.T) {
	method, params := Initialize("2025-11-25", map[string]any{"roots": map[string]any{"listChanged": true}}, "tester", "0.1.0")
	assert.Equal(t, "initialize", method)
	assert.Equal(t, "2025-11-25", params["protocolVersion"])
	clientInfo := params["clientInfo"].(map[string]any)
	assert.Equal(t, "tester", clientInfo["name"])
	assert.Equal(t, "0.1.0", clientInfo["version"])
}

func TestNotificationsCancelledElidesEmptyReason(t *testing.T) {
	_, params := NotificationsCancelled(3, "")
	_, hasReason := params["reason"]
	assert.False(t, hasReason)
	assert.Equal(t, 3, params["requestId"])
}
