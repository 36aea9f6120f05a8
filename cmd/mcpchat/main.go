// Command mcpchat is a small demonstration of driving an MCP server's tools
// through a genai tool-calling loop: it discovers tools over the client
// library, exposes them to the model as function declarations, executes
// whichever one the model picks via the library's Connection, and renders
// the model's text replies as Markdown. It is a sample consumer of the
// library, not part of the core.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"google.golang.org/genai"

	mcpclient "github.com/kestrelmcp/goclient"
	"github.com/kestrelmcp/goclient/transport"
)

var (
	userStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	modelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	toolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func main() {
	command := flag.String("command", "", "stdio MCP server command to launch")
	url := flag.String("url", "", "HTTP MCP server URL (alternative to -command)")
	model := flag.String("model", "gemini-2.5-flash", "genai model name")
	flag.Parse()

	if *command == "" && *url == "" {
		fmt.Fprintln(os.Stderr, "mcpchat: one of -command or -url is required")
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := dial(ctx, *command, *url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpchat: %v\n", err)
		os.Exit(1)
	}
	defer conn.Disconnect()

	declarations, tools, err := discoverTools(ctx, conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpchat: discover tools: %v\n", err)
		os.Exit(1)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  os.Getenv("GEMINI_API_KEY"),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpchat: genai client: %v\n", err)
		os.Exit(1)
	}

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		renderer = nil
	}

	chat := &session{
		conn:         conn,
		client:       client,
		model:        *model,
		declarations: declarations,
		toolNames:    tools,
		renderer:     renderer,
		history:      []*genai.Content{},
	}
	chat.run(ctx)
}

func dial(ctx context.Context, command, url string) (*mcpclient.Connection, error) {
	if command != "" {
		fields := strings.Fields(command)
		tr := transport.NewStdio(fields[0], fields[1:])
		return mcpclient.Dial(ctx, tr, mcpclient.WithClientInfo("mcpchat", "0.1.0"))
	}
	tr := transport.NewHTTP(url)
	return mcpclient.Dial(ctx, tr, mcpclient.WithClientInfo("mcpchat", "0.1.0"))
}

// discoverTools lists the server's tools and adapts each one's JSON-Schema
// input shape into a genai.FunctionDeclaration. Returns the declarations
// plus the set of known tool names for dispatch.
func discoverTools(ctx context.Context, conn *mcpclient.Connection) ([]*genai.FunctionDeclaration, map[string]bool, error) {
	result, err := conn.Request(ctx, "tools/list", nil)
	if err != nil {
		return nil, nil, err
	}

	rawTools, _ := result["tools"].([]any)
	declarations := make([]*genai.FunctionDeclaration, 0, len(rawTools))
	names := make(map[string]bool, len(rawTools))

	for _, raw := range rawTools {
		tool, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tool["name"].(string)
		description, _ := tool["description"].(string)
		schema, err := adaptInputSchema(tool["inputSchema"])
		if err != nil {
			fmt.Fprintf(os.Stderr, "mcpchat: skipping tool %q: %v\n", name, err)
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        name,
			Description: description,
			Parameters:  schema,
		})
		names[name] = true
	}
	return declarations, names, nil
}

// numericStringSchemaFields lists JSON-Schema keywords that genai.Schema's
// UnmarshalJSON expects as strings, though MCP servers send them as JSON
// numbers like every other schema producer.
var numericStringSchemaFields = map[string]bool{
	"minLength": true, "maxLength": true,
	"minItems": true, "maxItems": true,
	"minProperties": true, "maxProperties": true,
}

func adaptInputSchema(raw any) (*genai.Schema, error) {
	if raw == nil {
		return &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("inputSchema is not an object")
	}
	coerceNumericSchemaFields(m)

	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("re-encode schema: %w", err)
	}
	var schema genai.Schema
	if err := schema.UnmarshalJSON(encoded); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return &schema, nil
}

func coerceNumericSchemaFields(m map[string]any) {
	for key, value := range m {
		if numericStringSchemaFields[key] {
			if n, ok := value.(float64); ok {
				m[key] = strconv.FormatInt(int64(n), 10)
			}
		}
		if nested, ok := value.(map[string]any); ok {
			coerceNumericSchemaFields(nested)
		}
		if arr, ok := value.([]any); ok {
			for _, item := range arr {
				if nested, ok := item.(map[string]any); ok {
					coerceNumericSchemaFields(nested)
				}
			}
		}
	}
}

type session struct {
	conn         *mcpclient.Connection
	client       *genai.Client
	model        string
	declarations []*genai.FunctionDeclaration
	toolNames    map[string]bool
	renderer     *glamour.TermRenderer
	history      []*genai.Content
}

func (s *session) run(ctx context.Context) {
	fmt.Printf("Connected to %s (%d tools). Ctrl-D to quit.\n", s.conn.ServerInfo().Name, len(s.declarations))

	scanner := bufio.NewScanner(os.Stdin)
	readUserInput := true
	for {
		if readUserInput {
			fmt.Print(userStyle.Render("You") + ": ")
			if !scanner.Scan() {
				return
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			s.history = append(s.history, genai.NewContentFromText(text, genai.RoleUser))
		}

		response, err := s.client.Models.GenerateContent(ctx, s.model, s.history, &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{FunctionDeclarations: s.declarations}},
		})
		if err != nil {
			fmt.Println(errStyle.Render("Error") + ": " + err.Error())
			readUserInput = true
			continue
		}
		if len(response.Candidates) == 0 {
			fmt.Println(errStyle.Render("Error") + ": empty response")
			readUserInput = true
			continue
		}

		reply := response.Candidates[0].Content
		s.history = append(s.history, reply)

		var toolResults []*genai.Content
		for _, part := range reply.Parts {
			if part.Text != "" {
				s.displayModelText(part.Text)
			}
			if part.FunctionCall != nil {
				toolResults = append(toolResults, s.callTool(ctx, part.FunctionCall))
			}
		}

		if len(toolResults) == 0 {
			readUserInput = true
			continue
		}
		s.history = append(s.history, toolResults...)
		readUserInput = false
	}
}

func (s *session) displayModelText(text string) {
	fmt.Print(modelStyle.Render("Model") + ": ")
	if s.renderer != nil {
		if rendered, err := s.renderer.Render(text); err == nil {
			fmt.Print(rendered)
			return
		}
	}
	fmt.Println(text)
}

func (s *session) callTool(ctx context.Context, call *genai.FunctionCall) *genai.Content {
	fmt.Println(toolStyle.Render(fmt.Sprintf("Tool call: %s(%v)", call.Name, call.Args)))

	if !s.toolNames[call.Name] {
		return genai.NewContentFromFunctionResponse(call.Name, map[string]any{"error": "unknown tool"}, genai.RoleUser)
	}

	result, err := s.conn.Request(ctx, "tools/call", map[string]any{
		"name":      call.Name,
		"arguments": call.Args,
	})
	if err != nil {
		fmt.Println(errStyle.Render("Tool error") + ": " + err.Error())
		return genai.NewContentFromFunctionResponse(call.Name, map[string]any{"error": err.Error()}, genai.RoleUser)
	}
	return genai.NewContentFromFunctionResponse(call.Name, result, genai.RoleUser)
}
