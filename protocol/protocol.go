// Package protocol holds pure builders for every MCP method body: each
// function returns the wire method name and a params map, eliding optional
// cursors and arguments when absent. The Connection's handshake logic
// depends directly on Initialize and NotificationsInitialized, and its
// Cancel on NotificationsCancelled.
package protocol

// Client → server requests.

func Initialize(protocolVersion string, capabilities map[string]any, clientName, clientVersion string) (string, map[string]any) {
	return "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    capabilities,
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}
}

func Ping() (string, map[string]any) {
	return "ping", nil
}

func ToolsList(cursor string) (string, map[string]any) {
	return "tools/list", withCursor(nil, cursor)
}

func ToolsCall(name string, arguments map[string]any) (string, map[string]any) {
	params := map[string]any{"name": name}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	}
	return "tools/call", params
}

func ResourcesList(cursor string) (string, map[string]any) {
	return "resources/list", withCursor(nil, cursor)
}

func ResourcesTemplatesList(cursor string) (string, map[string]any) {
	return "resources/templates/list", withCursor(nil, cursor)
}

func ResourcesRead(uri string) (string, map[string]any) {
	return "resources/read", map[string]any{"uri": uri}
}

func ResourcesSubscribe(uri string) (string, map[string]any) {
	return "resources/subscribe", map[string]any{"uri": uri}
}

func ResourcesUnsubscribe(uri string) (string, map[string]any) {
	return "resources/unsubscribe", map[string]any{"uri": uri}
}

func PromptsList(cursor string) (string, map[string]any) {
	return "prompts/list", withCursor(nil, cursor)
}

func PromptsGet(name string, arguments map[string]any) (string, map[string]any) {
	params := map[string]any{"name": name}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	}
	return "prompts/get", params
}

func LoggingSetLevel(level string) (string, map[string]any) {
	return "logging/setLevel", map[string]any{"level": level}
}

func CompletionComplete(ref map[string]any, argument map[string]any) (string, map[string]any) {
	return "completion/complete", map[string]any{
		"ref":      ref,
		"argument": argument,
	}
}

// Notifications (no response expected or permitted).

func NotificationsInitialized() (string, map[string]any) {
	return "notifications/initialized", nil
}

func NotificationsCancelled(requestID any, reason string) (string, map[string]any) {
	params := map[string]any{"requestId": requestID}
	if reason != "" {
		params["reason"] = reason
	}
	return "notifications/cancelled", params
}

func NotificationsProgress(progressToken any, progress float64, total float64) (string, map[string]any) {
	params := map[string]any{
		"progressToken": progressToken,
		"progress":      progress,
	}
	if total > 0 {
		params["total"] = total
	}
	return "notifications/progress", params
}

func NotificationsRootsListChanged() (string, map[string]any) {
	return "notifications/roots/list_changed", nil
}

func withCursor(params map[string]any, cursor string) map[string]any {
	if cursor == "" {
		return params
	}
	if params == nil {
		params = map[string]any{}
	}
	params["cursor"] = cursor
	return params
}
