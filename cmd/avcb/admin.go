package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"avcb/internal/domain"
	"avcb/internal/engine"
	"avcb/internal/receita"
)

func roleCmd() *cobra.Command {
	r := &cobra.Command{Use: "role", Short: "Manage user roles"}
	r.AddCommand(roleListCmd())
	r.AddCommand(roleChangeCmd("grant", "Grant a role to a user"))
	r.AddCommand(roleChangeCmd("revoke", "Revoke a role from a user"))
	return r
}

func roleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "List roles of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				roles, err := e.Repo.ListUserRoles(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roles)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Role", "Since"})
				for _, ur := range roles {
					tw.AppendRow(table.Row{ur.UserID, ur.Role, ur.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func roleChangeCmd(verb, short string) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   verb + " <user-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != domain.RoleAdmin && role != domain.RoleUser {
				return fmt.Errorf("--role must be %s or %s", domain.RoleAdmin, domain.RoleUser)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var err error
				if verb == "grant" {
					err = e.Repo.AssignRole(ctx, args[0], role)
				} else {
					err = e.Repo.RevokeRole(ctx, args[0], role)
				}
				if err != nil {
					return err
				}
				logger.Info("role changed", zap.String("action", verb), zap.String("user_id", args[0]), zap.String("role", role))
				fmt.Printf("%s %s: %s\n", verb, role, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", domain.RoleAdmin, "role name")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create a demo citizen, an admin and one process with documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.AssignRole(ctx, "demo-admin", domain.RoleAdmin); err != nil {
					return err
				}
				if _, err := e.Repo.UpsertProfile(ctx, domain.Profile{ID: "demo-citizen", FullName: "Maria Demo", Email: "maria@example.com"}); err != nil {
					return err
				}
				citizen := domain.Actor{ID: "demo-citizen", Name: "Maria Demo"}
				p, err := e.CreateProcess(ctx, engine.CreateProcessInput{
					UserID:       citizen.ID,
					CompanyName:  "Padaria Exemplo LTDA",
					CNPJ:         "11.222.333/0001-81",
					City:         "Goiania",
					State:        "GO",
					ContactName:  citizen.Name,
					ContactEmail: "maria@example.com",
					CNAEPrimary:  "1091-1/02",
					BuiltArea:    180,
					Actor:        citizen,
				})
				if err != nil {
					return err
				}
				docs := []struct{ name, typ string }{
					{"Planta baixa", "planta"},
					{"ART do responsavel tecnico", "art"},
				}
				for _, d := range docs {
					if _, err := e.AttachDocument(ctx, engine.AttachDocumentInput{
						ProcessID: p.ID,
						Name:      d.name,
						Type:      d.typ,
						FileURL:   "https://example.com/" + d.typ + ".pdf",
						Actor:     citizen,
					}); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Seeded process %s (%s); admin user id: demo-admin\n", p.ProcessNumber, p.ID)
				return nil
			})
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove documents whose process no longer exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Cleanup(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d orphaned documents\n", n)
				return nil
			})
		},
	}
}

func companyCmd() *cobra.Command {
	c := &cobra.Command{Use: "company", Short: "Query the CNPJ registry"}
	c.AddCommand(&cobra.Command{
		Use:   "lookup <cnpj>",
		Short: "Look up a company by CNPJ",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := receita.NewClient()
			if u := viper.GetString("receita-url"); u != "" {
				client.BaseURL = u
			}
			var lookup receita.Lookup = client
			if u := viper.GetString("redis-url"); u != "" {
				rdb, err := receita.NewRedis(ctx, u)
				if err != nil {
					return fmt.Errorf("connect redis: %w", err)
				}
				defer rdb.Close()
				lookup = receita.Cached{Next: client, Redis: rdb, TTL: receita.DefaultCacheTTL, Logger: logger}
			}
			company, err := lookup.GetByCNPJ(ctx, args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(company)
			}
			fmt.Printf("%s  %s\n", receita.FormatCNPJ(company.CNPJ), company.LegalName)
			if company.TradeName != "" {
				fmt.Printf("Trade name: %s\n", company.TradeName)
			}
			fmt.Printf("Status: %s\nAddress: %s, %s/%s %s\nCNAE: %s %v\n", company.Status, company.Address, company.City, company.State, company.ZipCode, company.CNAEPrimary, company.CNAESecondary)
			return nil
		},
	})
	return c
}
