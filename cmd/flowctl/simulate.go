package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/spf13/cobra"
)

type simulateOptions struct {
	tenant     string
	domain     string
	sender     string
	catalog    string
	showState  bool
	logVerbose bool
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate [file]",
		Short: "Play a conversation read line by line from stdin",
		Long: `simulate feeds each stdin line to the orchestrator as a lead message and prints the reply.
Without a file the built-in conversation of the domain is used. "/reset" forgets the
conversation and "/quit" ends the session.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.logVerbose {
				slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
			}
			return runSimulate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.tenant, "tenant", "demo", "tenant the conversation belongs to")
	cmd.Flags().StringVar(&opts.domain, "domain", string(models.DefaultDomain), "business domain: real_estate or car_dealer")
	cmd.Flags().StringVar(&opts.sender, "sender", "5500000000000", "phone number of the simulated lead")
	cmd.Flags().StringVar(&opts.catalog, "catalog", "", "JSON file with catalog items to search")
	cmd.Flags().BoolVar(&opts.showState, "state", false, "print the stage and step count after every reply")
	cmd.Flags().BoolVarP(&opts.logVerbose, "verbose", "v", false, "keep engine logs")
	return cmd
}

func runSimulate(ctx context.Context, in io.Reader, out io.Writer, args []string, opts simulateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	domain := models.ParseDomain(opts.domain)
	mem := store.NewInMemoryStore()

	if opts.catalog != "" {
		n, err := seedCatalog(ctx, mem, opts.catalog, opts.tenant)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "# %d catalog items loaded\n", n)
	}
	if len(args) == 1 {
		def, err := loadFlow(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		version, err := mem.SaveFlowDefinition(ctx, opts.tenant, domain, def)
		if err != nil {
			return err
		}
		if err := mem.PublishFlowDefinition(ctx, opts.tenant, domain, version); err != nil {
			return err
		}
		fmt.Fprintf(out, "# flow %s published for %s/%s\n", args[0], opts.tenant, domain)
	}

	engine := flow.NewEngine(flow.WithCatalog(mem), flow.WithLeadTracker(mem))
	orchestrator := flow.NewOrchestrator(engine, mem, mem)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/reset":
			if err := mem.ClearConversation(ctx, opts.tenant, opts.sender); err != nil {
				return err
			}
			fmt.Fprintln(out, "# conversation reset")
			continue
		}
		res, err := orchestrator.HandleTurn(ctx, flow.Turn{TenantID: opts.tenant, SenderID: opts.sender, Text: line, Domain: domain})
		if err != nil {
			return fmt.Errorf("turn %q: %w", line, err)
		}
		fmt.Fprintf(out, "< %s\n", line)
		fmt.Fprintf(out, "> %s\n", res.Message)
		if opts.showState && res.State != nil {
			fmt.Fprintf(out, "# stage=%s steps=%d outcome=%s\n", res.State.Stage, res.Steps, res.Outcome)
		}
	}
	return scanner.Err()
}

// seedCatalog loads a JSON array of catalog items into w, assigning them to tenant.
func seedCatalog(ctx context.Context, w store.CatalogWriter, path, tenant string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var items []models.CatalogItem
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	for _, item := range items {
		item.TenantID = tenant
		if err := w.UpsertItem(ctx, item); err != nil {
			return 0, err
		}
	}
	return len(items), nil
}
