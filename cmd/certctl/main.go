package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"

	"certflow/backend/pkg/models"
)

// certctl is a small operator CLI for driving certification workflows over
// the HTTP API: initiate a run, inspect it, approve or reject steps, and
// trigger the final apply.

var (
	serverURL    string
	tokenURL     string
	clientID     string
	clientSecret string
	authScopes   []string
)

var rootCmd = &cobra.Command{
	Use:   "certctl",
	Short: "Operate certification workflows from the command line",
	Long: `certctl talks to a certflow server over its HTTP API.

When --token-url is set, certctl obtains a bearer token via the OAuth2
client credentials grant before each command. Without it, requests are sent
unauthenticated (useful against a dev server with auth bypass enabled).`,
	SilenceUsage: true,
}

var initiateCmd = &cobra.Command{
	Use:   "initiate <project-id>",
	Short: "Start a workflow run for a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runInitiate,
}

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show a workflow run's steps and progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var approveCmd = &cobra.Command{
	Use:   "approve <workflow-id> <step-id>",
	Short: "Approve a step that is awaiting review",
	Args:  cobra.ExactArgs(2),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <workflow-id> <step-id>",
	Short: "Reject a step so it can be regenerated",
	Args:  cobra.ExactArgs(2),
	RunE:  runReject,
}

var applyCmd = &cobra.Command{
	Use:   "apply <workflow-id>",
	Short: "Apply all approved artifacts to the project",
	Args:  cobra.ExactArgs(1),
	RunE:  runApply,
}

var validateCmd = &cobra.Command{
	Use:   "validate <text>",
	Short: "Score a single requirement statement",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var (
	initiateIndustry    string
	initiateFramework   string
	initiateDescription string
	initiateDocuments   []string
	rejectReason        string
	validateRuleSet     string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the certflow server")
	rootCmd.PersistentFlags().StringVar(&tokenURL, "token-url", "", "OAuth2 token endpoint for the client credentials grant")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "OAuth2 client id")
	rootCmd.PersistentFlags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret")
	rootCmd.PersistentFlags().StringSliceVar(&authScopes, "scope", []string{"workflow:read", "workflow:write"}, "OAuth2 scopes to request")

	initiateCmd.Flags().StringVar(&initiateIndustry, "industry", "", "industry context for generation")
	initiateCmd.Flags().StringVar(&initiateFramework, "framework", "", "certification framework, e.g. EN 50128")
	initiateCmd.Flags().StringVar(&initiateDescription, "description", "", "short system description")
	initiateCmd.Flags().StringSliceVar(&initiateDocuments, "document", nil, "document id to extract from (repeatable)")
	_ = initiateCmd.MarkFlagRequired("document")

	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "why the step output was rejected")
	_ = rejectCmd.MarkFlagRequired("reason")

	validateCmd.Flags().StringVar(&validateRuleSet, "rule-set", "agent", "rule set to apply: agent or batch")

	rootCmd.AddCommand(initiateCmd, statusCmd, approveCmd, rejectCmd, applyCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func httpClient(ctx context.Context) *http.Client {
	if tokenURL == "" {
		return &http.Client{Timeout: 60 * time.Second}
	}
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       authScopes,
	}
	client := cfg.Client(ctx)
	client.Timeout = 60 * time.Second
	return client
}

// callAPI sends a JSON request and decodes either the response body into out
// or an RFC 7807 problem document into an error.
func callAPI(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(serverURL, "/")+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient(ctx).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var problem models.ProblemDetails
		if decodeErr := json.NewDecoder(resp.Body).Decode(&problem); decodeErr == nil && problem.Title != "" {
			return fmt.Errorf("%s: %s", problem.Title, problem.Detail)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func runInitiate(cmd *cobra.Command, args []string) error {
	payload := map[string]any{
		"industry":           initiateIndustry,
		"framework":          initiateFramework,
		"system_description": initiateDescription,
		"document_ids":       initiateDocuments,
	}
	var run models.WorkflowRun
	if err := callAPI(cmd.Context(), http.MethodPost,
		"/api/v1/projects/"+args[0]+"/workflows", payload, &run); err != nil {
		return err
	}
	fmt.Printf("Workflow %s started (phase %s)\n", run.ID, run.CurrentPhase)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status models.WorkflowStatus
	if err := callAPI(cmd.Context(), http.MethodGet,
		"/api/v1/workflows/"+args[0], nil, &status); err != nil {
		return err
	}
	fmt.Printf("Run %s  status=%s  phase=%s  progress=%d%%\n",
		status.Run.ID, status.Run.Status, status.Run.CurrentPhase, status.Progress)
	for _, step := range status.Steps {
		marker := " "
		if step.Status == models.StepStatusAwaitingApproval {
			marker = ">"
		}
		fmt.Printf("%s %2d. %-28s %s\n", marker, step.StepNumber, step.StepName, step.Status)
	}
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	var outcome models.ApproveOutcome
	if err := callAPI(cmd.Context(), http.MethodPost,
		"/api/v1/workflows/"+args[0]+"/steps/"+args[1]+"/approve", map[string]any{}, &outcome); err != nil {
		return err
	}
	if outcome.Completed {
		fmt.Println("Step approved; workflow complete")
		return nil
	}
	if outcome.NextStep != nil {
		fmt.Printf("Step approved; next step %s is %s\n", outcome.NextStep.StepName, outcome.NextStep.Status)
	}
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	if err := callAPI(cmd.Context(), http.MethodPost,
		"/api/v1/workflows/"+args[0]+"/steps/"+args[1]+"/reject",
		map[string]any{"reason": rejectReason}, nil); err != nil {
		return err
	}
	fmt.Println("Step rejected; it can be re-run to regenerate output")
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	var result struct {
		Summary map[string]any      `json:"summary"`
		Apply   *models.ApplyResult `json:"apply"`
	}
	if err := callAPI(cmd.Context(), http.MethodPost,
		"/api/v1/workflows/"+args[0]+"/apply", map[string]any{}, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var assessment map[string]any
	if err := callAPI(cmd.Context(), http.MethodPost,
		"/api/v1/requirements/validate",
		map[string]any{"text": args[0], "rule_set": validateRuleSet}, &assessment); err != nil {
		return err
	}
	return printJSON(assessment)
}
