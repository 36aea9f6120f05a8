// Command mcpinspect connects to one or more MCP servers over stdio or HTTP
// and prints the tools, resources, and prompts each one advertises. It is a
// thin demonstration of the client library, not part of the core.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mcpclient "github.com/kestrelmcp/goclient"
	"github.com/kestrelmcp/goclient/pool"
	"github.com/kestrelmcp/goclient/transport"
)

// serverFlag is a custom flag.Value accumulating repeated -server flags,
// each naming one MCP server to inspect.
type serverFlag []serverSpec

type serverSpec struct {
	id      string
	kind    string // "stdio" or "http"
	command string // stdio: argv[0]; http: URL
	args    []string
}

func (s *serverFlag) String() string {
	var parts []string
	for _, spec := range *s {
		parts = append(parts, spec.id)
	}
	return strings.Join(parts, ", ")
}

func (s *serverFlag) Set(value string) error {
	fields := strings.SplitN(value, ":", 3)
	if len(fields) < 3 {
		return fmt.Errorf("invalid -server value %q, expected id:stdio:command[,arg1,arg2,...] or id:http:url", value)
	}
	id, kind, rest := fields[0], fields[1], fields[2]
	if id == "" {
		return fmt.Errorf("invalid -server value %q: empty id", value)
	}

	var command string
	var args []string
	switch kind {
	case "stdio":
		parts := strings.Split(rest, ",")
		command = parts[0]
		args = parts[1:]
	case "http":
		command = rest
	default:
		return fmt.Errorf("invalid -server kind %q, expected stdio or http", kind)
	}

	*s = append(*s, serverSpec{id: id, kind: kind, command: command, args: args})
	return nil
}

func main() {
	var servers serverFlag
	flag.Var(&servers, "server", "Register an MCP server. Format: id:stdio:command[,arg1,arg2]  or  id:http:url. Repeatable.")
	strategyName := flag.String("strategy", "round-robin", "Pool checkout strategy: round-robin, random, least-busy")
	timeout := flag.String("timeout", "10s", "Dial timeout per server")
	flag.Parse()

	if len(servers) == 0 {
		fmt.Fprintln(os.Stderr, "mcpinspect: at least one -server is required")
		os.Exit(1)
	}

	dialTimeout, err := time.ParseDuration(*timeout)
	if err != nil {
		log.Fatalf("mcpinspect: invalid -timeout: %v", err)
	}

	strategy, err := parseStrategy(*strategyName)
	if err != nil {
		log.Fatalf("mcpinspect: %v", err)
	}

	var conns []*mcpclient.Connection
	for _, spec := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		conn, err := dialServer(ctx, spec)
		cancel()
		if err != nil {
			log.Printf("mcpinspect: failed to dial %s: %v", spec.id, err)
			continue
		}
		log.Printf("connected to %s (server %s %s, protocol %s)", spec.id, conn.ServerInfo().Name, conn.ServerInfo().Version, conn.ProtocolVersion())
		conns = append(conns, conn)
	}

	if len(conns) == 0 {
		log.Fatal("mcpinspect: no server connected successfully")
	}

	p := pool.New(strategy, conns...)
	defer p.Close()

	for range servers {
		conn, err := p.Checkout()
		if err != nil {
			log.Printf("mcpinspect: checkout failed: %v", err)
			continue
		}
		inspect(conn)
	}
}

func dialServer(ctx context.Context, spec serverSpec) (*mcpclient.Connection, error) {
	switch spec.kind {
	case "stdio":
		tr := transport.NewStdio(spec.command, spec.args)
		return mcpclient.Dial(ctx, tr, mcpclient.WithClientInfo("mcpinspect", "0.1.0"))
	case "http":
		tr := transport.NewHTTP(spec.command)
		return mcpclient.Dial(ctx, tr, mcpclient.WithClientInfo("mcpinspect", "0.1.0"))
	default:
		return nil, fmt.Errorf("unknown server kind %q", spec.kind)
	}
}

func parseStrategy(name string) (pool.Strategy, error) {
	switch name {
	case "round-robin":
		return pool.RoundRobin, nil
	case "random":
		return pool.Random, nil
	case "least-busy":
		return pool.LeastBusy, nil
	default:
		return 0, fmt.Errorf("unknown -strategy %q", name)
	}
}

func inspect(conn *mcpclient.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if result, err := conn.Request(ctx, "tools/list", nil); err != nil {
		log.Printf("tools/list: %v", err)
	} else {
		printResult("tools", result)
	}

	if result, err := conn.Request(ctx, "resources/list", nil); err != nil {
		log.Printf("resources/list: %v", err)
	} else {
		printResult("resources", result)
	}

	if result, err := conn.Request(ctx, "prompts/list", nil); err != nil {
		log.Printf("prompts/list: %v", err)
	} else {
		printResult("prompts", result)
	}
}

func printResult(label string, result map[string]any) {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Printf("%s: failed to format result: %v", label, err)
		return
	}
	fmt.Printf("--- %s ---\n%s\n", label, raw)
}
