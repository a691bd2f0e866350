package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// runSubmit posts a research question to a running server.
//
//	perquire submit -question "..." -meta time_horizon=2020-2026 -meta region_focus=global
func runSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	question := fs.String("question", "", "Research question to investigate")
	depth := fs.String("depth", "", "Research depth: quick, standard, or deep")
	maxSteps := fs.Int("max-steps", 0, "Cap on planned research steps")
	server := fs.String("server", "", "Server base URL (defaults to configured host/port)")
	var metaFlags metaValues
	fs.Var(&metaFlags, "meta", "Clarification metadata as key=value (repeatable)")
	fs.Parse(args)

	if strings.TrimSpace(*question) == "" {
		fmt.Fprintln(os.Stderr, "submit requires -question")
		os.Exit(1)
	}

	baseURL := *server
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
	}

	payload := map[string]interface{}{
		"question": *question,
		"options": map[string]interface{}{
			"depth":     *depth,
			"max_steps": *maxSteps,
		},
		"metadata": metaFlags.toMap(),
	}
	body, _ := json.Marshal(payload)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(baseURL+"/api/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Fatal().Err(err).Str("server", baseURL).Msg("Failed to submit job")
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		logger.Fatal().Err(err).Msg("Failed to decode server response")
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if resp.StatusCode != http.StatusCreated {
		os.Exit(1)
	}
}

// metaValues collects repeated -meta key=value flags.
type metaValues []string

func (m *metaValues) String() string { return strings.Join(*m, ",") }

func (m *metaValues) Set(value string) error {
	if !strings.Contains(value, "=") {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	*m = append(*m, value)
	return nil
}

func (m metaValues) toMap() map[string]string {
	out := make(map[string]string, len(m))
	for _, pair := range m {
		parts := strings.SplitN(pair, "=", 2)
		out[parts[0]] = parts[1]
	}
	return out
}
