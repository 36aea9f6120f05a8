package mcpclient

import "fmt"

// KnownProtocolVersions lists the MCP protocol versions this client
// recognizes, latest first. The client requests LatestProtocolVersion on
// handshake; it accepts whatever version string the server actually returns
// without rejecting unknown ones — forward compatibility is the server's
// concern.
var KnownProtocolVersions = []string{
	"2025-11-25",
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// LatestProtocolVersion is the version requested during handshake.
var LatestProtocolVersion = KnownProtocolVersions[0]

// ServerInfo is the server-info object returned in an initialize response.
type ServerInfo struct {
	Name    string
	Version string
}

// DefaultClientCapabilities is the capability map sent during handshake when
// the caller supplies none explicitly.
func DefaultClientCapabilities() map[string]any {
	return map[string]any{
		"roots": map[string]any{"listChanged": true},
	}
}

// WithSamplingCapability returns a copy of base with sampling advertised in
// addition to base's own entries. Advertising sampling does not make the core
// implement it: an inbound sampling/createMessage request is always answered
// with method-not-found, since sampling is out of scope here.
func WithSamplingCapability(base map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range base {
		out[k] = v
	}
	out["sampling"] = map[string]any{}
	return out
}

// hasFeature reports whether capabilities advertises the named top-level
// feature at all (e.g. "tools", "resources", "prompts").
func hasFeature(capabilities map[string]any, feature string) bool {
	_, ok := capabilities[feature]
	return ok
}

// featureSupportsListChanged reports whether a feature's sub-capability map
// advertises listChanged: true.
func featureSupportsListChanged(capabilities map[string]any, feature string) bool {
	return subFlag(capabilities, feature, "listChanged")
}

// featureSupportsSubscribe reports whether a feature's sub-capability map
// advertises subscribe: true (meaningful for "resources").
func featureSupportsSubscribe(capabilities map[string]any, feature string) bool {
	return subFlag(capabilities, feature, "subscribe")
}

func subFlag(capabilities map[string]any, feature, flag string) bool {
	raw, ok := capabilities[feature]
	if !ok {
		return false
	}
	sub, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	v, ok := sub[flag].(bool)
	return ok && v
}

// extractHandshake pulls the server capability map, server-info object, and
// negotiated protocol-version string out of a decoded initialize result.
func extractHandshake(result map[string]any) (ServerInfo, map[string]any, string, error) {
	var info ServerInfo
	rawInfo, _ := result["serverInfo"].(map[string]any)
	if rawInfo != nil {
		info.Name, _ = rawInfo["name"].(string)
		info.Version, _ = rawInfo["version"].(string)
	}

	caps, _ := result["capabilities"].(map[string]any)

	version, _ := result["protocolVersion"].(string)
	if version == "" {
		return info, caps, "", fmt.Errorf("mcp: initialize result missing protocolVersion")
	}

	return info, caps, version, nil
}
