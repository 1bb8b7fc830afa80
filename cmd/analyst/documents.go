package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/api"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/pdfsplit"
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Ingest PDF documents and ask questions about them",
}

var docIngestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>",
	Short: "Upload a PDF, optionally asking a first question",
	Long: `Upload a PDF. Identical content is recognized and not uploaded twice.

Examples:
  analyst doc ingest ./annual-report.pdf
  analyst doc ingest ./annual-report.pdf --question "What was revenue growth?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question, _ := cmd.Flags().GetString("question")
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		if !pdfsplit.IsPDF(data) {
			return fmt.Errorf("%s is not a PDF", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Uploading %s (%d bytes)", filepath.Base(args[0]), len(data))
		resp, err := client.upload(cmd.Context(), "/v1/documents", args[0], data, map[string]string{"question": question})
		if err != nil {
			return err
		}
		var res api.DocumentAnswer
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		return printAnswer(cmd, res)
	},
}

func init() {
	docIngestCmd.Flags().String("question", "", "question to ask once the document is ingested")
}

var docAskCmd = &cobra.Command{
	Use:   "ask <id> <question>",
	Short: "Ask a question about an ingested document",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseDocID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/v1/documents/%d/questions", id),
			api.QuestionRequest{Question: strings.Join(args[1:], " ")})
		if err != nil {
			return err
		}
		var res api.DocumentAnswer
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		return printAnswer(cmd, res)
	},
}

func printAnswer(cmd *cobra.Command, res api.DocumentAnswer) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	d := res.Document
	if res.Reused {
		printSuccess("Reusing document %d (%s, %d pages, %d chunks)", d.ID, d.FileName, d.PageCount, d.ChunkCount)
	} else {
		printSuccess("Ingested document %d (%s, %d pages, %d chunks)", d.ID, d.FileName, d.PageCount, d.ChunkCount)
	}
	if res.Answer != "" {
		fmt.Fprintln(out, strings.TrimSpace(res.Answer))
		printStatus("Tokens", "%d in / %d out", res.InputTokens, res.OutputTokens)
	}
	return nil
}

var docListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents with their Q&A activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), queryPath("/v1/documents", url.Values{"limit": {strconv.Itoa(limit)}}))
		if err != nil {
			return err
		}
		var docs []api.DocumentSummary
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, docs)
		}
		if len(docs) == 0 {
			fmt.Fprintln(out, "No documents yet.")
			return nil
		}
		for _, d := range docs {
			last := "never asked"
			if d.LastQuestion != nil {
				last = "last asked " + d.LastQuestion.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(out, "%4d  %-40s %4d pages  %-10s %3d Q&A  %s\n",
				d.ID, truncate(d.FileName, 40), d.PageCount, d.Status, d.QACount, last)
		}
		return nil
	},
}

func init() {
	docListCmd.Flags().Int("limit", 20, "number of documents to list")
}

var docShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a document and its Q&A history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseDocID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/documents/%d", id))
		if err != nil {
			return err
		}
		var session api.SessionResponse
		if err := decodeJSON(resp, &session); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, session)
		}
		d := session.Document
		printStatus("File", "%s", d.FileName)
		printStatus("Status", "%s", d.Status)
		if d.ErrorReason != "" {
			printStatus("Error", "%s", d.ErrorReason)
		}
		printStatus("Pages", "%d in %d chunks of %d", d.PageCount, d.ChunkCount, d.ChunkPages)
		printStatus("Processed", "%s", d.ProcessedAt.Local().Format("2006-01-02 15:04"))

		var cost float64
		for _, qa := range session.History {
			cost += qa.CostEstimate
			fmt.Fprintf(out, "%s %s\n", colorize(colorBold, "Q:"), qa.Question)
			fmt.Fprintf(out, "%s %s\n\n", colorize(colorBold, "A:"), strings.TrimSpace(qa.Answer))
		}
		if len(session.History) > 0 {
			printStatus("Estimated cost", "$%.4f over %d questions", cost, len(session.History))
		}
		return nil
	},
}

var docInspectCmd = &cobra.Command{
	Use:   "inspect <file.pdf>",
	Short: "Print page count and text of a local PDF without uploading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, _ := cmd.Flags().GetInt("pages")
		chunkPages, _ := cmd.Flags().GetInt("chunk-pages")
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		n, err := pdfsplit.PageCount(data)
		if err != nil {
			return err
		}
		printStatus("Pages", "%d", n)
		for _, r := range pdfsplit.Ranges(n, chunkPages) {
			printStatus("Chunk", "pages %d-%d", r[0], r[1])
		}

		text, err := pdfsplit.ExtractText(data, pages)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range text {
			fmt.Fprintln(out, colorize(colorBold, fmt.Sprintf("--- page %d ---", p.Page)))
			fmt.Fprintln(out, p.Text)
		}
		return nil
	},
}

func init() {
	docInspectCmd.Flags().Int("pages", 3, "number of pages to print (0 for all)")
	docInspectCmd.Flags().Int("chunk-pages", pdfsplit.DefaultChunkPages, "pages per uploaded chunk")

	docCmd.AddCommand(docIngestCmd)
	docCmd.AddCommand(docAskCmd)
	docCmd.AddCommand(docListCmd)
	docCmd.AddCommand(docShowCmd)
	docCmd.AddCommand(docInspectCmd)
}

func parseDocID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid document id %q", s)
	}
	return id, nil
}

// --- compare ---

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Ask one prompt across several documents",
	Long: `Ask one prompt across several documents and combine the answers.

Examples:
  analyst compare --doc 1 --doc 2 --prompt "Compare gross margins"
  analyst compare --doc 1,2,3 --prompt "Key risks" --web`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, _ := cmd.Flags().GetInt64Slice("doc")
		prompt, _ := cmd.Flags().GetString("prompt")
		web, _ := cmd.Flags().GetBool("web")
		if len(ids) == 0 {
			return fmt.Errorf("at least one --doc is required")
		}
		if strings.TrimSpace(prompt) == "" {
			return fmt.Errorf("--prompt is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Comparing %d documents", len(ids))
		resp, err := client.post(cmd.Context(), "/v1/comparisons", api.ComparisonRequest{
			DocumentIDs: ids,
			Prompt:      prompt,
			WebSearch:   web,
		})
		if err != nil {
			return err
		}
		var res api.ComparisonResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(res.Report))
		return nil
	},
}

func init() {
	compareCmd.Flags().Int64Slice("doc", nil, "document id (repeatable or comma-separated)")
	compareCmd.Flags().String("prompt", "", "question to ask of every document")
	compareCmd.Flags().Bool("web", false, "append live web insights for the prompt")
}
