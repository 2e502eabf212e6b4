// Command modelsync-demo runs a tiny chi-routed HTTP server exposing
// introspection endpoints over a single in-memory Model, grounded on the
// teacher's convention of a chi-routed demo binary per module
// (examples/eventbus-demo, examples/cache-demo). This is a demonstration of
// the core library's observability surface, not part of it: no HTTP
// concern lives in the modelsync package itself.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/modelsync/modelsync"
	"github.com/modelsync/modelsync/internal/memtransport"
)

type contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func syncContact(_ context.Context, _ ...any) (modelsync.Snapshot[contact], error) {
	return modelsync.Snapshot[contact]{
		Data:       contact{Name: "Ada Lovelace", Email: "ada@example.com"},
		SequenceID: "0",
	}, nil
}

func mergeContact(_ context.Context, state contact, event modelsync.Event, _ bool) (contact, error) {
	patch, ok := event.Data.(map[string]any)
	if !ok {
		return state, nil
	}
	if name, ok := patch["name"].(string); ok {
		state.Name = name
	}
	if email, ok := patch["email"].(string); ok {
		state.Email = email
	}
	return state, nil
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	transport := memtransport.New("connected")
	client := modelsync.NewModelsClient(transport, modelsync.DefaultOptions(), nil, nil)

	model, err := modelsync.GetModel(client, modelsync.ModelSpec[contact]{
		Name:        "contact",
		ChannelName: "contact-channel",
		Sync:        syncContact,
		Merge:       mergeContact,
	})
	if err != nil {
		log.Fatalf("get model: %v", err)
	}
	if err := model.Sync(context.Background()); err != nil {
		log.Fatalf("initial sync: %v", err)
	}

	janitor := modelsync.NewJanitor(client, nil, "@every 30s")
	if err := janitor.Start(); err != nil {
		log.Fatalf("start janitor: %v", err)
	}
	defer janitor.Stop()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/models", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, client.Diagnostics())
	})

	r.Get("/models/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		if name != "contact" {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, map[string]any{
			"name":  name,
			"state": model.State(),
			"data":  model.Data(),
		})
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("modelsync-demo listening on %s", *addr)
	log.Fatal(server.ListenAndServe())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
