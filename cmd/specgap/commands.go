package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a document audit",
	Long: `Queue a document audit.

Examples:
  specgap submit --file ./contract.txt --session alice
  specgap submit --file ./spec.txt --session alice --domain "Fintech" --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		session, _ := cmd.Flags().GetString("session")
		domain, _ := cmd.Flags().GetString("domain")
		wait, _ := cmd.Flags().GetBool("wait")

		if file == "" {
			return fmt.Errorf("--file is required")
		}
		if session == "" {
			return fmt.Errorf("--session is required")
		}

		text, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading %s: %w", file, err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		resp, err := client.post(ctx, "/v1/audits", map[string]string{
			"session_id":    session,
			"document_text": string(text),
			"domain":        domain,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
			return apiError(resp)
		}

		var submitted struct {
			Entry struct {
				ID       string `json:"id"`
				Position int    `json:"position"`
			} `json:"entry"`
			ETA struct {
				Formatted string `json:"wait_formatted"`
			} `json:"eta"`
			AlreadyQueued bool `json:"already_queued"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}

		if submitted.AlreadyQueued {
			warnf("session already has an audit (entry %s, position %d)",
				submitted.Entry.ID, submitted.Entry.Position)
		} else {
			successf("Queued audit %s (position %d, ETA %s)",
				submitted.Entry.ID, submitted.Entry.Position, submitted.ETA.Formatted)
		}

		if !wait {
			return nil
		}
		return waitForAudit(ctx, client, submitted.Entry.ID)
	},
}

func waitForAudit(ctx context.Context, client *apiClient, entryID string) error {
	lastStage := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}

		st, err := fetchAudit(ctx, client, entryID)
		if err != nil {
			return err
		}

		if st.Stage != lastStage {
			stepf("stage: %s", st.Stage)
			lastStage = st.Stage
		}

		switch st.Stage {
		case "done":
			successf("Audit complete: %d cards", len(st.Pack.Flashcards))
			return json.NewEncoder(os.Stdout).Encode(st.Pack)
		case "failed":
			failf("Audit failed: %s", st.Error)
			return fmt.Errorf("audit failed")
		}
	}
}

type auditStatus struct {
	Entry struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Position int    `json:"position"`
	} `json:"entry"`
	Stage string `json:"stage"`
	Error string `json:"error"`
	Pack  struct {
		Flashcards []json.RawMessage `json:"flashcards"`
		Summary    json.RawMessage   `json:"summary"`
	} `json:"patch_pack"`
}

func fetchAudit(ctx context.Context, client *apiClient, entryID string) (auditStatus, error) {
	resp, err := client.get(ctx, "/v1/audits/"+entryID)
	if err != nil {
		return auditStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return auditStatus{}, apiError(resp)
	}

	var st auditStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return auditStatus{}, fmt.Errorf("decoding status: %w", err)
	}
	return st, nil
}

// --- audit ---

var auditCmd = &cobra.Command{
	Use:   "audit <entry-id>",
	Short: "Show the status of a queued or finished audit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		st, err := fetchAudit(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		field("Entry", "%s", st.Entry.ID)
		field("Status", "%s", st.Entry.Status)
		field("Stage", "%s", st.Stage)
		if st.Entry.Position > 0 {
			field("Position", "%d", st.Entry.Position)
		}
		if st.Error != "" {
			field("Error", "%s", st.Error)
		}
		if st.Stage == "done" {
			field("Cards", "%d", len(st.Pack.Flashcards))
			return json.NewEncoder(os.Stdout).Encode(st.Pack)
		}
		return nil
	},
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show queue and daily quota state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/queue")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return apiError(resp)
		}

		var info struct {
			QueueLength int  `json:"queue_length"`
			Processing  bool `json:"is_processing"`
			WaitSeconds int  `json:"estimated_wait_seconds"`
			Quota       struct {
				Used      int  `json:"used"`
				Limit     int  `json:"limit"`
				Remaining int  `json:"remaining"`
				Exhausted bool `json:"is_exhausted"`
			} `json:"daily_quota"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return fmt.Errorf("decoding queue info: %w", err)
		}

		field("Waiting", "%d", info.QueueLength)
		field("Processing", "%v", info.Processing)
		field("Estimated wait", "%ds", info.WaitSeconds)
		field("Quota", "%d/%d used (%d remaining)", info.Quota.Used, info.Quota.Limit, info.Quota.Remaining)
		if info.Quota.Exhausted {
			warnf("daily quota exhausted — resets at midnight UTC")
		}
		return nil
	},
}

func apiError(resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
		return fmt.Errorf("%s (%s)", body.Error.Message, body.Error.Type)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

func init() {
	submitCmd.Flags().String("file", "", "path to the extracted document text")
	submitCmd.Flags().String("session", "", "session token (one live audit per session)")
	submitCmd.Flags().String("domain", "", "business domain label")
	submitCmd.Flags().Bool("wait", false, "poll until the audit finishes and print the patch pack")
}
