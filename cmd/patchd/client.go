package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patchd/internal/httpapi"
	"github.com/fyrsmithlabs/patchd/internal/orchestrator"
	"github.com/fyrsmithlabs/patchd/internal/session"
)

var (
	submitRepo   string
	submitBase   string
	submitVerify string
	statusWait   time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <prompt>",
	Short: "Submit a change request to a running daemon",
	Long: `Submit a natural-language change request.

Examples:
  # Submit a request
  patchd submit --repo acme/webapp "Add input validation to the signup handler"

  # Read the prompt from stdin
  echo "Add input validation" | patchd submit --repo acme/webapp -

  # Run the test suite against the changes before committing
  patchd submit --repo acme/webapp --verify "go test ./..." "Fix the flaky retry test"`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Fetch a session's result",
	Long: `Fetch the outcome of a submitted change request.

Examples:
  # Poll once
  patchd status 6e9f6e0a-5a3c-4c86-a9d1-0f6f2d9b1c70

  # Block until the session finishes or the wait elapses
  patchd status --wait 60s 6e9f6e0a-5a3c-4c86-a9d1-0f6f2d9b1c70`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	RunE:  runHealth,
}

func init() {
	submitCmd.Flags().StringVar(&submitRepo, "repo", "", "target repository (owner/name)")
	submitCmd.Flags().StringVar(&submitBase, "base", "", "base branch (defaults to the daemon's configured default)")
	submitCmd.Flags().StringVar(&submitVerify, "verify", "", "command to run against the changes before committing")
	_ = submitCmd.MarkFlagRequired("repo")

	statusCmd.Flags().DurationVar(&statusWait, "wait", 0, "block up to this long for a terminal result")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	prompt := args[0]
	if prompt == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading prompt from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(raw))
	}

	body, err := json.Marshal(session.Request{
		Prompt:        prompt,
		Repo:          submitRepo,
		BaseBranch:    submitBase,
		VerifyCommand: submitVerify,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	resp, err := httpClient().Post(serverURL+"/api/v1/changes", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return responseError(resp)
	}

	var accepted httpapi.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("Session: %s\n", accepted.SessionID)
	fmt.Printf("Check progress with: patchd status %s\n", accepted.SessionID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	target := fmt.Sprintf("%s/api/v1/changes/%s", serverURL, url.PathEscape(args[0]))
	if statusWait > 0 {
		target += "?wait=" + statusWait.String()
	}

	client := httpClient()
	if statusWait > 0 {
		client.Timeout = statusWait + 10*time.Second
	}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result orchestrator.Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		printResult(&result)
		if !result.Success {
			return fmt.Errorf("session failed: %s", result.ErrorCode)
		}
		return nil
	case http.StatusAccepted:
		fmt.Println("Status: in progress")
		return nil
	default:
		return responseError(resp)
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	var health httpapi.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

func printResult(result *orchestrator.Result) {
	if result.Success {
		fmt.Println("Status: completed")
		fmt.Printf("Branch: %s\n", result.BranchName)
		fmt.Printf("Change request: %s\n", result.ChangeRequestURL)
		if result.Summary != "" {
			fmt.Printf("Summary: %s\n", result.Summary)
		}
		return
	}
	fmt.Println("Status: failed")
	if result.BranchName != "" {
		fmt.Printf("Branch: %s\n", result.BranchName)
	}
	fmt.Printf("Error: %s (%s)\n", result.Message, result.ErrorCode)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func responseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
