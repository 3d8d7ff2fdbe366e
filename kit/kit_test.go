package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("order: got %v, want %v", order, expected)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	errFail := errors.New("fail")

	ep := Logging(logger, "process")(func(context.Context, any) (any, error) { return nil, errFail })
	ctx := WithRequestID(WithTransport(context.Background(), "mcp"), "req_1")
	if _, err := ep(ctx, nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
	out := buf.String()
	for _, want := range []string{"endpoint=process", "transport=mcp", "request_id=req_1", "error=fail"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ep := Chain(Logging(logger, "process"), Recover(logger))(func(context.Context, any) (any, error) {
		panic("boom")
	})

	resp, err := ep(WithRequestID(context.Background(), "req_7"), nil)
	if err == nil || !strings.Contains(err.Error(), "boom") || resp != nil {
		t.Fatalf("got %v, %v; want nil and a boom error", resp, err)
	}
	out := buf.String()
	for _, want := range []string{"panic recovered", "request_id=req_7", "call failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if v := GetUserID(ctx); v != "" {
		t.Fatalf("user_id default: got %q", v)
	}
	if v := GetTransport(ctx); v != "cli" {
		t.Fatalf("transport default: got %q, want cli", v)
	}
	ctx = WithUserID(ctx, "usr_123")
	if v := GetUserID(ctx); v != "usr_123" {
		t.Fatalf("user_id: got %q", v)
	}
}

func TestEnsureRequestID(t *testing.T) {
	ctx := EnsureRequestID(context.Background())
	id := GetRequestID(ctx)
	if !strings.HasPrefix(id, "req_") {
		t.Fatalf("request id = %q, want req_ prefix", id)
	}
	if got := GetRequestID(EnsureRequestID(ctx)); got != id {
		t.Errorf("existing id replaced: %q -> %q", id, got)
	}
}

type echoReq struct {
	Word string `json:"word"`
}

func TestRegisterMCPTool(t *testing.T) {
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "Echo a word.",
		InputSchema: InputSchema(map[string]any{"word": map[string]any{"type": "string"}}, []string{"word"}),
	}, func(ctx context.Context, req any) (any, error) {
		r := req.(*echoReq)
		if r.Word == "bad" {
			return nil, errors.New("bad word")
		}
		return map[string]string{"word": r.Word, "transport": GetTransport(ctx), "user": GetUserID(ctx), "request": GetRequestID(ctx)}, nil
	}, func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
		var r echoReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &MCPDecodeResult{Request: &r, EnrichCtx: func(ctx context.Context) context.Context {
			return WithUserID(ctx, "usr_mcp")
		}}, nil
	})

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"word": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := res.GetError(); err != nil {
		t.Fatalf("tool error: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &got); err != nil {
		t.Fatal(err)
	}
	if got["word"] != "hi" || got["transport"] != "mcp" || got["user"] != "usr_mcp" || !strings.HasPrefix(got["request"], "req_") {
		t.Errorf("got %v", got)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"word": "bad"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("endpoint error not reported as tool error")
	}
}
