package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikeboe/research-conductor/pkg/app"
	"github.com/mikeboe/research-conductor/pkg/config"
	"github.com/mikeboe/research-conductor/pkg/documents"
	"github.com/mikeboe/research-conductor/pkg/server"
)

var (
	req        server.CreateJobRequest
	filterJSON string
	docsFile   string
	jsonOutput bool
)

func main() {
	// Logs go to stderr so the context can be piped.
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	rootCmd := &cobra.Command{
		Use:   "research-conductor",
		Short: "Gather research context for a question",
		Long: `research-conductor plans sub-queries for a question, researches them in parallel
across the web, local documents or a vector store, and prints the merged context.`,
		RunE: run,
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&req.Query, "query", "q", "", "The research question")
	flags.StringVarP(&req.ReportSource, "report-source", "s", "", "web, local, hybrid, langchain_documents or langchain_vectorstore (default from REPORT_SOURCE)")
	flags.StringVarP(&req.ReportType, "report-type", "t", "", "research_report, detailed_report, subtopic_report, ...")
	flags.StringVar(&req.Role, "role", "", "Agent role used when planning sub-queries")
	flags.StringVar(&req.ParentQuery, "parent-query", "", "Parent task of a subtopic report")
	flags.StringSliceVarP(&req.SourceURLs, "url", "u", nil, "Research only these locations (repeatable)")
	flags.BoolVar(&req.ComplementSourceURLs, "complement", false, "Also search the web when --url is given")
	flags.StringVarP(&req.DocPath, "doc-path", "d", "", "Directory of local documents (default from DOC_PATH)")
	flags.StringVar(&filterJSON, "filter", "", "JSON metadata filter for vector store research")
	flags.StringVar(&docsFile, "documents", "", "JSON file holding an array of {page_content, metadata} documents")
	flags.BoolVar(&jsonOutput, "json", false, "Print the context as JSON")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if !cmd.Flags().Changed("query") {
		// Interactive Mode
		reader := bufio.NewReader(os.Stdin)
		fmt.Fprint(os.Stderr, "Enter research question: ")
		input, _ := reader.ReadString('\n')
		req.Query = strings.TrimSpace(input)
	}
	if req.ReportSource == "" {
		req.ReportSource = cfg.ReportSource
	}
	if req.DocPath == "" {
		req.DocPath = cfg.DocPath
	}
	if filterJSON != "" {
		if err := json.Unmarshal([]byte(filterJSON), &req.VectorStoreFilter); err != nil {
			return fmt.Errorf("invalid --filter: %w", err)
		}
	}

	if docsFile != "" {
		docs, err := readDocuments(docsFile)
		if err != nil {
			return err
		}
		req.Documents = docs
		if !cmd.Flags().Changed("report-source") {
			req.ReportSource = "langchain_documents"
		}
	}

	sess, err := req.NewSession()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize research engine: %w", err)
	}
	defer a.Close()

	if factory := a.VisitedSet(); factory != nil {
		sess.Visited = factory(sess.ID)
	}

	slog.Info("Starting research", "query", sess.Query, "report_source", sess.ReportSource)
	mc, err := a.Engine.ConductResearch(ctx, sess)
	if err != nil {
		return fmt.Errorf("research failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"session_id": sess.ID,
			"context":    mc,
			"sources":    mc.Sources(),
			"costs":      sess.Costs.Total(),
		})
	}

	fmt.Fprintln(out, mc.String())
	fmt.Fprintf(out, "\nSources (%d):\n", len(mc.Sources()))
	for _, s := range mc.Sources() {
		fmt.Fprintf(out, "  - %s\n", s)
	}
	fmt.Fprintf(out, "Total Research Costs: $%.4f\n", sess.Costs.Total())
	return nil
}

func readDocuments(path string) ([]documents.Supplied, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents file: %w", err)
	}
	var docs []documents.Supplied
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("invalid documents file %s: %w", path, err)
	}
	return docs, nil
}
