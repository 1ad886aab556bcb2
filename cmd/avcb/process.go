package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"avcb/internal/domain"
	"avcb/internal/engine"
)

func processCmd() *cobra.Command {
	p := &cobra.Command{Use: "process", Aliases: []string{"proc"}, Short: "Manage inspection processes"}
	p.AddCommand(processCreateCmd())
	p.AddCommand(processListCmd())
	p.AddCommand(processShowCmd())
	p.AddCommand(processAdvanceCmd())
	p.AddCommand(processDeleteCmd())
	p.AddCommand(processFeePaidCmd())
	return p
}

func processCreateCmd() *cobra.Command {
	var in engine.CreateProcessInput
	var cnaeSecondary string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new process in cadastro",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in.Actor = actor()
				if in.UserID == "" {
					in.UserID = in.Actor.ID
				}
				if cnaeSecondary != "" {
					for _, code := range strings.Split(cnaeSecondary, ",") {
						if code = strings.TrimSpace(code); code != "" {
							in.CNAESecondary = append(in.CNAESecondary, code)
						}
					}
				}
				p, err := e.CreateProcess(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Created process %s (%s) risk=%s fee=%.2f\n", p.ProcessNumber, p.ID, p.RiskCategory, p.FeeAmount)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.UserID, "user-id", "", "owning citizen (defaults to --actor-id)")
	f.StringVar(&in.CompanyName, "company", "", "legal company name")
	f.StringVar(&in.TradeName, "trade-name", "", "trade name")
	f.StringVar(&in.CNPJ, "cnpj", "", "company CNPJ")
	f.StringVar(&in.Address, "address", "", "street address")
	f.StringVar(&in.City, "city", "", "city")
	f.StringVar(&in.State, "state", "", "two-letter state")
	f.StringVar(&in.ZipCode, "zip", "", "zip code")
	f.StringVar(&in.ContactName, "contact", "", "contact name")
	f.StringVar(&in.ContactPhone, "phone", "", "contact phone")
	f.StringVar(&in.ContactEmail, "email", "", "contact email")
	f.StringVar(&in.CNAEPrimary, "cnae", "", "primary CNAE code")
	f.StringVar(&cnaeSecondary, "cnae-secondary", "", "comma-separated secondary CNAE codes")
	f.Float64Var(&in.BuiltArea, "built-area", 0, "built area in square meters")
	f.BoolVar(&in.LookupCompany, "lookup", false, "prefill blank company fields from the CNPJ registry")
	return cmd
}

func processListCmd() *cobra.Command {
	var userID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var items []domain.Process
				var err error
				if userID != "" {
					items, err = e.Repo.ListProcessesByUser(ctx, userID)
				} else {
					items, err = e.Repo.ListProcesses(ctx)
				}
				if err != nil {
					return err
				}
				if status != "" {
					filtered := items[:0]
					for _, p := range items {
						if string(p.CurrentStatus) == status {
							filtered = append(filtered, p)
						}
					}
					items = filtered
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Number", "ID", "Company", "CNPJ", "Stage", "Risk", "Fee Paid"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ProcessNumber, p.ID, p.CompanyName, p.CNPJ, e.Config.StageLabel(p.CurrentStatus), p.RiskCategory, p.FeePaid})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "only processes owned by this user")
	cmd.Flags().StringVar(&status, "status", "", "stage filter")
	return cmd
}

func processShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <process-id>",
		Short: "Show a process with documents, history and readiness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Detail(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				p := d.Process
				fmt.Printf("%s  %s (%s)\n", p.ProcessNumber, p.CompanyName, p.CNPJ)
				fmt.Printf("Stage: %s", e.Config.StageLabel(p.CurrentStatus))
				if p.CurrentStatus == domain.StageExigencia {
					fmt.Printf(" (active: %s)", e.Config.StageLabel(d.Readiness.ActiveStage))
				}
				fmt.Printf("\nRisk: %s  Fee: %.2f  Paid: %t\n", p.RiskCategory, p.FeeAmount, p.FeePaid)
				c := d.Readiness.Classification
				fmt.Printf("Readiness: total=%d pending=%d rejected=%d can_advance=%t\n\n", c.Total, c.Pending, c.Rejected, d.Readiness.CanAdvance)
				renderDocuments(d.Documents)
				fmt.Println()
				renderHistory(d.History)
				return nil
			})
		},
	}
}

func processAdvanceCmd() *cobra.Command {
	var observation string
	cmd := &cobra.Command{
		Use:   "advance <process-id>",
		Short: "Move a process to its next stage when the active stage is ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AdvanceStage(ctx, engine.AdvanceInput{ProcessID: args[0], Observation: observation, Actor: actor()})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if !res.Advanced {
					fmt.Printf("Not advanced: %s (pending=%d rejected=%d)\n", res.Reason, res.Pending, res.Rejected)
					return nil
				}
				fmt.Printf("Advanced %s -> %s\n", e.Config.StageLabel(res.From), e.Config.StageLabel(res.To))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&observation, "observation", "", "observation recorded in history")
	return cmd
}

func processDeleteCmd() *cobra.Command {
	var yes bool
	var number string
	cmd := &cobra.Command{
		Use:   "delete <process-id>",
		Short: "Delete an early-stage process and its documents",
		Long:  "Deletion needs both --yes and --confirm-number matching the process number.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.DeleteProcess(ctx, engine.DeleteInput{ProcessID: args[0], Confirm: yes, ConfirmNumber: number, Actor: actor()})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Deleted process %s (%d documents, %d files)\n", res.ProcessID, res.DocumentsRemoved, res.FilesRemoved)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "first confirmation")
	cmd.Flags().StringVar(&number, "confirm-number", "", "process number, second confirmation")
	return cmd
}

func processFeePaidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fee-paid <process-id>",
		Short: "Record the inspection fee as paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.MarkFeePaid(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func stampCmd() *cobra.Command {
	var fileURL string
	cmd := &cobra.Command{
		Use:   "stamp <process-id>",
		Short: "Issue the final certificate and conclude the process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.StampCertificate(ctx, engine.StampInput{ProcessID: args[0], FileURL: fileURL, Actor: actor()})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Stamped %s; certificate %s at %s\n", res.Process.ProcessNumber, res.Certificate.ID, res.Certificate.FileURL)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fileURL, "url", "", "certificate URL (rendered and uploaded when empty)")
	return cmd
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <process-id>",
		Short: "Show the history of a process, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListHistoryByProcess(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderHistory(items)
				return nil
			})
		},
	}
}

func renderHistory(items []domain.ProcessHistory) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"When", "Event", "Stage", "Step", "By", "Observations"})
	for _, h := range items {
		by := h.ResponsibleName
		if by == "" {
			by = h.ResponsibleID
		}
		tw.AppendRow(table.Row{h.CreatedAt, h.Event, h.Status, h.StepStatus, by, h.Observations})
	}
	tw.Render()
}

func renderDocuments(items []domain.ProcessDocument) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Type", "Stage", "Status", "Reason"})
	for _, d := range items {
		reason := ""
		if d.RejectionReason != nil {
			reason = *d.RejectionReason
		}
		tw.AppendRow(table.Row{d.ID, d.DocumentName, d.DocumentType, d.EffectiveStage(), d.Status, reason})
	}
	tw.Render()
}

func readUpload(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return data, filepath.Base(path), nil
}
