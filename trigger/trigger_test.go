package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
)

func TestFire_Isolation(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("ok", func(context.Context, Subject) (any, error) { return "done", nil })
	r.Register("fails", func(context.Context, Subject) (any, error) { return nil, errors.New("boom") })
	r.Register("panics", func(context.Context, Subject) (any, error) { panic("kaboom") })
	r.Register("long", func(context.Context, Subject) (any, error) { return strings.Repeat("x", 500), nil })
	r.Register("number", func(context.Context, Subject) (any, error) { return 42, nil })

	got := r.Fire(context.Background(), Subject{FileID: "doc_1"})
	if len(got) != 5 {
		t.Fatalf("got %d fired, want 5: %+v", len(got), got)
	}
	want := []struct {
		name    string
		success bool
		result  string
		errSub  string
	}{
		{"ok", true, "done", ""},
		{"fails", false, "", "boom"},
		{"panics", false, "", "kaboom"},
		{"long", true, strings.Repeat("x", 200), ""},
		{"number", true, "42", ""},
	}
	for i, w := range want {
		f := got[i]
		if f.Trigger != w.name || f.Success != w.success || f.Result != w.result {
			t.Errorf("fired[%d] = %+v, want trigger=%s success=%v result=%q", i, f, w.name, w.success, w.result)
		}
		if w.errSub != "" && !strings.Contains(f.Error, w.errSub) {
			t.Errorf("fired[%d].Error = %q, want containing %q", i, f.Error, w.errSub)
		}
	}
}

func TestRegister_Replace(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("a", func(context.Context, Subject) (any, error) { return 1, nil })
	r.Register("b", func(context.Context, Subject) (any, error) { return 2, nil })
	r.Register("a", func(context.Context, Subject) (any, error) { return 3, nil })
	if got := strings.Join(r.Names(), ","); got != "a,b" {
		t.Errorf("Names = %s, want a,b", got)
	}
	if got := r.Fire(context.Background(), Subject{})[0].Result; got != "3" {
		t.Errorf("replaced trigger result = %q, want 3", got)
	}
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		category, docType string
		want              []string
	}{
		{"financial", "invoice", []string{"update_financial_forecast", "accounts_payable_api"}},
		{"financial", "financial_report", []string{"update_financial_forecast"}},
		{"compliance", "policy", []string{"compliance_alert"}},
		{"legal", "contract", nil},
		{"", "invoice", []string{"accounts_payable_api"}},
	}
	for _, tt := range tests {
		t.Run(tt.category+"/"+tt.docType, func(t *testing.T) {
			got := Builtins(Subject{Category: tt.category, DocumentType: tt.docType})
			if len(got) != len(tt.want) {
				t.Fatalf("Builtins = %+v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i].Trigger != tt.want[i] || !got[i].Success || got[i].Detail == "" {
					t.Errorf("builtin[%d] = %+v, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFire_RegisteredBeforeBuiltins(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("mine", func(context.Context, Subject) (any, error) { return nil, nil })
	got := r.Fire(context.Background(), Subject{Category: "financial", DocumentType: "invoice"})
	names := make([]string, len(got))
	for i, f := range got {
		names[i] = f.Trigger
	}
	if want := "mine,update_financial_forecast,accounts_payable_api"; strings.Join(names, ",") != want {
		t.Errorf("order = %v, want %s", names, want)
	}
}

func TestCloudEventsWebhook(t *testing.T) {
	var (
		mu     sync.Mutex
		events []map[string]any
		types  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e, err := cehttp.NewEventFromHTTPRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var data map[string]any
		if err := json.Unmarshal(e.Data(), &data); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		events = append(events, data)
		types = append(types, e.Type()+" "+e.Source()+" "+e.Subject())
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	fn, err := CloudEventsWebhook(WebhookConfig{Name: "hook", URL: srv.URL, AllowPrivate: true})
	if err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(nil)
	r.Register("hook", fn)
	got := r.Fire(context.Background(), Subject{
		FileID: "doc_1",
		Record: map[string]any{"file_id": "doc_1", "document_type": "invoice"},
	})
	if len(got) != 1 || !got[0].Success || got[0].Result == "" {
		t.Fatalf("fired = %+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("receiver got %d events, want 1", len(events))
	}
	if events[0]["document_type"] != "invoice" {
		t.Errorf("event data = %v", events[0])
	}
	if want := EventType + " " + EventSource + " doc_1"; types[0] != want {
		t.Errorf("event attrs = %q, want %q", types[0], want)
	}
}

func TestCloudEventsWebhook_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	fn, err := CloudEventsWebhook(WebhookConfig{Name: "hook", URL: srv.URL, AllowPrivate: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fn(context.Background(), Subject{FileID: "doc_1", Record: map[string]any{}}); err == nil {
		t.Error("webhook returning 500 reported success")
	}
}

func TestCloudEventsWebhook_PrivateURL(t *testing.T) {
	tests := []string{"http://127.0.0.1:9000/hook", "ftp://example.com/", "http://10.0.0.5/x"}
	for _, u := range tests {
		if _, err := CloudEventsWebhook(WebhookConfig{Name: "hook", URL: u}); err == nil {
			t.Errorf("CloudEventsWebhook(%q) accepted", u)
		}
	}
}
