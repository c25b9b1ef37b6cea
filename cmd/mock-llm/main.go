package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/product-enrichment-pipeline/pkg/mockllm"
)

func main() {
	addr := defaultString("MOCK_LLM_ADDR", ":11434")
	token := defaultString("MOCK_LLM_TOKEN", "")
	static := defaultString("MOCK_LLM_STATIC_REPLY", "")

	fs := flag.NewFlagSet("mock-llm", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&token, "token", token, "Require this bearer token (also supports env: MOCK_LLM_TOKEN)")
	fs.StringVar(&static, "static-reply", static, "Always answer with this content instead of echoing the schema")
	_ = fs.Parse(os.Args[1:])

	var responder mockllm.Responder = mockllm.SchemaEcho
	if static != "" {
		responder = mockllm.Static(static)
	}
	srv := mockllm.New(responder)
	if token != "" {
		srv.RequireBearerToken(token)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-llm listening on %s (POST /v1/chat/completions)\n", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
