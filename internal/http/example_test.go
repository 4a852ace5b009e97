package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/leadflow/internal/conversation"
	"github.com/fyrsmithlabs/leadflow/internal/extraction"
	httpserver "github.com/fyrsmithlabs/leadflow/internal/http"
	"github.com/fyrsmithlabs/leadflow/internal/ratelimit"
	"github.com/fyrsmithlabs/leadflow/internal/session"
)

// ExampleServer runs two chat turns against the router: the greeting, then
// a message carrying the visitor's name and phone.
func ExampleServer() {
	store := session.NewMemoryStore(30 * time.Minute)
	limiter, err := ratelimit.NewMemory(ratelimit.Config{})
	if err != nil {
		panic(err)
	}
	extractor, err := extraction.NewHeuristic(extraction.DefaultRules())
	if err != nil {
		panic(err)
	}
	engine, err := conversation.New(store, limiter, session.NewKeyedLock(0), extractor, conversation.Config{})
	if err != nil {
		panic(err)
	}
	server, err := httpserver.NewServer(engine, zap.NewNop(), &httpserver.Config{},
		httpserver.WithHealthCheck("sessions", store))
	if err != nil {
		panic(err)
	}

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	post := func(path string, body any) conversation.Response {
		raw, _ := json.Marshal(body)
		res, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(raw))
		if err != nil {
			panic(err)
		}
		defer res.Body.Close()
		var out conversation.Response
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			panic(err)
		}
		return out
	}

	const id = "web_1717416000_example1"
	greeting := post("/api/v1/conversation/start", httpserver.StartRequest{SessionID: id})
	fmt.Println(greeting.ResponseType)

	turn := post("/api/v1/conversation/respond", httpserver.RespondRequest{
		SessionID: id,
		Message:   "Meu nome é João, telefone 11999998888",
	})
	fmt.Println(turn.ResponseType, turn.ConfidenceScore, turn.Completed())
	// Output:
	// personalized_greeting
	// web_intelligent 0.75 false
}
