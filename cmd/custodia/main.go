package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/custodia-mx/custodia/pkg/client"
	"github.com/custodia-mx/custodia/pkg/record"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	timeout   time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "custodia",
	Short: "Custodia chain-of-custody CLI",
	Long: `custodia is the command-line interface for the Custodia evidence ledger.

It opens custody cases, anchors evidence records in their hash-linked
chains, validates chain integrity, and produces court-facing custody
proofs from a custodiad server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.custodia")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.custodia/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "custodiad base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout; appends block on server-side mining")

	rootCmd.AddCommand(caseCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(anchorCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(proofCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds the API client from the persistent flags.
func newClient() (*client.Client, error) {
	return client.New(serverURL, client.WithTimeout(timeout))
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── case ─────────────────────────────────────────────────────────────────────

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Open and inspect custody cases",
}

var (
	caseOpenID         string
	caseOpenDifficulty int
)

var caseOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a new custody case, mining its genesis entry",
	Long: `Open creates a custody case and mines its genesis entry.

Without flags the server allocates the next unused prime as the case id
and applies its default difficulty:

  custodia case open

A specific prime id and a per-case difficulty can be requested:

  custodia case open --id 104729 --difficulty 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		req := client.OpenCaseRequest{CaseID: caseOpenID}
		if cmd.Flags().Changed("difficulty") {
			req.Difficulty = &caseOpenDifficulty
		}

		start := time.Now()
		summary, err := c.OpenCase(context.Background(), req)
		if err != nil {
			return fmt.Errorf("open case: %w", err)
		}

		fmt.Printf("✓ Case opened in %s\n\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("  Case ID:    %s\n", summary.CaseID)
		fmt.Printf("  Difficulty: %d\n", summary.Difficulty)
		fmt.Printf("  Genesis:    %s\n\n", summary.GenesisDigest)
		fmt.Printf("Next: custodia anchor %s <evidence-file>\n", summary.CaseID)
		return nil
	},
}

func init() {
	caseOpenCmd.Flags().StringVar(&caseOpenID, "id", "", "Case id as a decimal prime; empty lets the server allocate one")
	caseOpenCmd.Flags().IntVar(&caseOpenDifficulty, "difficulty", 0, "Leading zero hex digits required of every digest in this case")
}

// listRow holds the outcome of fetching a single case summary.
type listRow struct {
	id      string
	summary *client.Summary
	err     error
}

var caseListFormat string

var caseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every case on the server with its chain status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		ids, err := c.ListCases(ctx)
		if err != nil {
			return fmt.Errorf("list cases: %w", err)
		}
		if len(ids) == 0 {
			fmt.Println("No cases. Open one with: custodia case open")
			return nil
		}

		// Fetch all summaries concurrently, then display in server order.
		resultsCh := make(chan listRow, len(ids))
		for _, id := range ids {
			id := id.String()
			go func() {
				s, err := c.GetCase(ctx, id)
				resultsCh <- listRow{id: id, summary: s, err: err}
			}()
		}
		byID := make(map[string]listRow, len(ids))
		for range ids {
			r := <-resultsCh
			byID[r.id] = r
		}
		ordered := make([]listRow, len(ids))
		for i, id := range ids {
			ordered[i] = byID[id.String()]
		}

		if caseListFormat == "json" {
			summaries := make([]*client.Summary, 0, len(ordered))
			for _, r := range ordered {
				if r.err == nil {
					summaries = append(summaries, r.summary)
				}
			}
			return printJSON(summaries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CASE ID\tENTRIES\tDIFFICULTY\tVALID\tLAST ENTRY\tERROR")
		for _, r := range ordered {
			if r.err != nil {
				fmt.Fprintf(w, "%s\t\t\t\t\t%s\n", r.id, r.err.Error())
				continue
			}
			s := r.summary
			fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%s\t\n",
				s.CaseID, s.EntryCount, s.Difficulty, s.Valid,
				s.LastEntryAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var caseShowFormat string

var caseShowCmd = &cobra.Command{
	Use:   "show <case-id>",
	Short: "Show the summary of one case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		summary, err := c.GetCase(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get case %q: %w", args[0], err)
		}

		if caseShowFormat == "json" {
			return printJSON(summary)
		}

		fmt.Printf("Case ID:          %s (prime: %t)\n", summary.CaseID, summary.CaseIDPrime)
		fmt.Printf("Difficulty:       %d\n", summary.Difficulty)
		fmt.Printf("Entries:          %d\n", summary.EntryCount)
		fmt.Printf("Entry ids prime:  %t\n", summary.AllIDsPrime)
		fmt.Printf("Nonces non-prime: %t\n", summary.AllNoncesNonPrime)
		fmt.Printf("Genesis digest:   %s\n", summary.GenesisDigest)
		fmt.Printf("Tip digest:       %s\n", summary.TipDigest)
		fmt.Printf("Last entry:       %s\n", summary.LastEntryAt.Format(time.RFC3339))
		fmt.Printf("Valid:            %t\n", summary.Valid)
		return nil
	},
}

func init() {
	caseListCmd.Flags().StringVar(&caseListFormat, "format", "text", "Output format: text or json")
	caseShowCmd.Flags().StringVar(&caseShowFormat, "format", "text", "Output format: text or json")

	caseCmd.AddCommand(caseOpenCmd)
	caseCmd.AddCommand(caseListCmd)
	caseCmd.AddCommand(caseShowCmd)
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendPayload string
	appendFile    string
)

var appendCmd = &cobra.Command{
	Use:   "append <case-id>",
	Short: "Anchor a raw JSON payload in a case's custody chain",
	Long: `Append mines the payload into the case's chain. The payload is JSON,
given inline, from a file, or on stdin:

  custodia append 7 --payload '{"tipo":"evento","accion":"traslado"}'
  custodia append 7 --file hallazgo.json
  cat hallazgo.json | custodia append 7

The command blocks while the server mines a qualifying digest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload()
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		start := time.Now()
		entry, err := c.AppendEntry(context.Background(), args[0], payload)
		if err != nil {
			return fmt.Errorf("append to case %s: %w", args[0], err)
		}

		printEntryMined(entry, time.Since(start))
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVar(&appendPayload, "payload", "", "Inline JSON payload")
	appendCmd.Flags().StringVar(&appendFile, "file", "", "File containing the JSON payload")
}

// readPayload returns the payload from --payload, --file, or stdin.
func readPayload() (json.RawMessage, error) {
	var data []byte
	switch {
	case appendPayload != "" && appendFile != "":
		return nil, fmt.Errorf("--payload and --file are mutually exclusive")
	case appendPayload != "":
		data = []byte(appendPayload)
	case appendFile != "":
		b, err := os.ReadFile(appendFile)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		data = b
	default:
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		data = b
	}

	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// printEntryMined prints the post-append summary of a mined entry.
func printEntryMined(entry *client.Entry, elapsed time.Duration) {
	fmt.Printf("✓ Entry anchored in %s\n\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Entry ID: %s\n", entry.EntryID)
	fmt.Printf("  Digest:   %s\n", entry.Digest)
	fmt.Printf("  Nonce:    %s\n", entry.Nonce)
	fmt.Printf("  Created:  %s\n", entry.CreatedAt.Format(time.RFC3339))
}

// ── anchor ───────────────────────────────────────────────────────────────────

var (
	anchorCategory string
	anchorTitle    string
	anchorDocket   string
)

var anchorCmd = &cobra.Command{
	Use:   "anchor <case-id> <file>",
	Short: "Fingerprint an evidence file and anchor it as a document record",
	Long: `Anchor builds a document record for the file — SHA-256 fingerprint,
size, title, category — and appends it to the case's chain. The file
itself is never uploaded; only its fingerprint enters the ledger:

  custodia anchor 7 dictamen-pericial.pdf --category documento_legal --title "Dictamen pericial"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read evidence file: %w", err)
		}

		title := anchorTitle
		if title == "" {
			title = filepath.Base(args[1])
		}
		doc := record.NewDocument(anchorCategory, title, content)
		doc.DocketNumber = anchorDocket

		payload, err := doc.JSON()
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		start := time.Now()
		entry, err := c.AppendEntry(context.Background(), args[0], payload)
		if err != nil {
			return fmt.Errorf("anchor in case %s: %w", args[0], err)
		}

		fmt.Printf("SHA-256: %s  (%d bytes)\n\n", doc.SHA256, doc.SizeBytes)
		printEntryMined(entry, time.Since(start))
		return nil
	},
}

func init() {
	anchorCmd.Flags().StringVar(&anchorCategory, "category", "documento_legal", "Document category")
	anchorCmd.Flags().StringVar(&anchorTitle, "title", "", "Document title (default: the file name)")
	anchorCmd.Flags().StringVar(&anchorDocket, "docket", "", "Court docket number, if any")
}

// ── entry ────────────────────────────────────────────────────────────────────

var entryFormat string

var entryCmd = &cobra.Command{
	Use:   "entry <case-id> <entry-id>",
	Short: "Show one custody entry, including its payload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		entry, err := c.GetEntry(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("get entry %s of case %s: %w", args[1], args[0], err)
		}

		if entryFormat == "json" {
			return printJSON(entry)
		}

		fmt.Printf("Entry ID:        %s\n", entry.EntryID)
		fmt.Printf("Case ID:         %s\n", entry.CaseID)
		fmt.Printf("Created:         %s\n", entry.CreatedAt.Format(time.RFC3339Nano))
		fmt.Printf("Previous digest: %s\n", entry.PrevDigest)
		fmt.Printf("Digest:          %s\n", entry.Digest)
		fmt.Printf("Nonce:           %s\n", entry.Nonce)
		fmt.Println("Payload:")

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, entry.Payload, "  ", "  "); err != nil {
			fmt.Printf("  %s\n", entry.Payload)
			return nil
		}
		fmt.Printf("  %s\n", pretty.String())
		return nil
	},
}

func init() {
	entryCmd.Flags().StringVar(&entryFormat, "format", "text", "Output format: text or json")
}

// ── validate ─────────────────────────────────────────────────────────────────

var validateFormat string

var validateCmd = &cobra.Command{
	Use:   "validate <case-id>",
	Short: "Re-check every chain predicate of a case",
	Long: `Validate re-verifies the case's chain server-side: entry id primality,
nonce compositeness, digest integrity, difficulty, and hash links.

In text mode a tampered chain lists every violation and exits non-zero.
In JSON mode the full report is printed and the exit code stays zero;
scripts should branch on the "valid" field.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		report, err := c.ValidateCase(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("validate case %s: %w", args[0], err)
		}

		if validateFormat == "json" {
			return printJSON(report)
		}

		if report.Valid {
			fmt.Printf("✓ Chain valid: case %s, %d entries, 0 violations\n",
				report.CaseID, report.EntryCount)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "POSITION\tENTRY ID\tCODE\tDETAIL")
		for _, v := range report.Violations {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", v.Position, v.EntryID, v.Code, v.Detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return fmt.Errorf("case %s: chain integrity violated, %d violation(s)",
			report.CaseID, len(report.Violations))
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateFormat, "format", "text", "Output format: text or json")
}

// ── export / import ──────────────────────────────────────────────────────────

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <case-id>",
	Short: "Export a case as an interchange document",
	Long: `Export writes the case's interchange document, byte for byte as the
server produced it, to stdout or --output. The document re-imports on
any custodiad with full fidelity:

  custodia export 7 --output expediente-7.json
  custodia export 7 | custodia --server http://backup:8080 import`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		doc, err := c.ExportCase(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("export case %s: %w", args[0], err)
		}

		if exportOutput == "" {
			_, err := os.Stdout.Write(doc)
			return err
		}
		if err := os.WriteFile(exportOutput, doc, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOutput, err)
		}
		fmt.Printf("✓ Case %s exported to %s (%d bytes)\n", args[0], exportOutput, len(doc))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a case from an interchange document",
	Long: `Import reconstructs a case from a document produced by export, reading
the given file or stdin. A structurally sound document is accepted even
when its chain no longer validates; the damage stays visible:

  custodia import expediente-7.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
		} else {
			data, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		summary, err := c.ImportCase(context.Background(), json.RawMessage(data))
		if err != nil {
			return fmt.Errorf("import case: %w", err)
		}

		fmt.Printf("✓ Case imported\n\n")
		fmt.Printf("  Case ID:    %s\n", summary.CaseID)
		fmt.Printf("  Entries:    %d\n", summary.EntryCount)
		fmt.Printf("  Difficulty: %d\n", summary.Difficulty)
		fmt.Printf("  Valid:      %t\n", summary.Valid)
		if !summary.Valid {
			fmt.Printf("\n⚠ The imported chain fails validation. See: custodia validate %s\n", summary.CaseID)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "Write the document to this file instead of stdout")
}

// ── proof ────────────────────────────────────────────────────────────────────

var (
	proofFormat string
	proofOutput string
)

var proofCmd = &cobra.Command{
	Use:   "proof <case-id>",
	Short: "Produce the court-facing custody proof for a case",
	Long: `Proof fetches the full custody certificate: every entry with its
primality attestations, the chain verdict, and the chain signature.

The JSON document is the filing artifact; text mode is a readable
preview:

  custodia proof 7 --format json --output constancia-7.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		proof, err := c.CustodyProof(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("custody proof for case %s: %w", args[0], err)
		}

		if proofOutput != "" {
			data, err := json.MarshalIndent(proof, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(proofOutput, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", proofOutput, err)
			}
			fmt.Printf("✓ Custody proof written to %s\n", proofOutput)
			return nil
		}
		if proofFormat == "json" {
			return printJSON(proof)
		}

		verdict := "VALID"
		if !proof.Valid {
			verdict = "INVALID"
		}
		fmt.Printf("%s\n", proof.DocumentType)
		fmt.Printf("Standards: %s\n\n", strings.Join(proof.Standards, ", "))
		fmt.Printf("  Case ID:    %s (prime: %t)\n", proof.CaseID, proof.CaseIDPrime)
		fmt.Printf("  Generated:  %s\n", proof.GeneratedAt.Format(time.RFC3339))
		fmt.Printf("  Difficulty: %d\n", proof.Difficulty)
		fmt.Printf("  Entries:    %d\n", proof.EntryCount)
		fmt.Printf("  Opened:     %s\n", proof.OpenedAt.Format(time.RFC3339))
		fmt.Printf("  Last entry: %s\n", proof.LastEntryAt.Format(time.RFC3339))
		fmt.Printf("  Verdict:    %s\n", verdict)
		fmt.Printf("  Signature:  %s\n\n", proof.Signature)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "POS\tENTRY ID\tID PRIME\tNONCE\tNONCE NON-PRIME\tDIGEST")
		for _, e := range proof.Entries {
			fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%t\t%s\n",
				e.Position, e.EntryID, e.EntryIDPrime, e.Nonce, e.NonceNonPrime, e.Digest)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if !proof.Valid {
			fmt.Println()
			fmt.Printf("⚠ %d violation(s). See: custodia validate %s\n", len(proof.Violations), proof.CaseID)
		}
		return nil
	},
}

func init() {
	proofCmd.Flags().StringVar(&proofFormat, "format", "text", "Output format: text or json")
	proofCmd.Flags().StringVar(&proofOutput, "output", "", "Write the JSON proof to this file")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the custodia CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("custodia %s\n", version)
	},
}
