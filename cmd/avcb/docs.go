package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"avcb/internal/domain"
	"avcb/internal/engine"
)

func docCmd() *cobra.Command {
	d := &cobra.Command{Use: "doc", Short: "Manage process documents"}
	d.AddCommand(docListCmd())
	d.AddCommand(docAttachCmd())
	d.AddCommand(docApproveCmd())
	d.AddCommand(docRejectCmd())
	d.AddCommand(docResubmitCmd())
	return d
}

func docListCmd() *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "list <process-id>",
		Short: "List documents of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				docs, err := e.Repo.ListDocumentsByProcess(ctx, args[0])
				if err != nil {
					return err
				}
				if stage != "" {
					docs = engine.DocumentsForStage(docs, domain.Stage(stage))
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				renderDocuments(docs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "only documents of this stage")
	return cmd
}

func docAttachCmd() *cobra.Command {
	var in engine.AttachDocumentInput
	var stage, file string
	cmd := &cobra.Command{
		Use:   "attach <process-id>",
		Short: "Attach a document to a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && in.FileURL == "" {
				return fmt.Errorf("--file or --url required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in.ProcessID = args[0]
				in.Stage = domain.Stage(stage)
				in.Actor = actor()
				if file != "" {
					data, name, err := readUpload(file)
					if err != nil {
						return err
					}
					in.Content, in.Filename = data, name
				}
				doc, err := e.AttachDocument(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "document name")
	cmd.Flags().StringVar(&in.Type, "type", "", "document type")
	cmd.Flags().StringVar(&stage, "stage", "", "stage the document belongs to (defaults to the active stage)")
	cmd.Flags().StringVar(&in.FileURL, "url", "", "URL of an already uploaded file")
	cmd.Flags().StringVar(&file, "file", "", "local file to upload")
	return cmd
}

func docApproveCmd() *cobra.Command {
	var observation string
	cmd := &cobra.Command{
		Use:   "approve <document-id>",
		Short: "Approve a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.ApproveDocument(ctx, engine.ApproveDocumentInput{DocumentID: args[0], Observation: observation, Actor: actor()})
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&observation, "observation", "", "observation recorded in history")
	return cmd
}

func docRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <document-id>",
		Short: "Reject a document and move its process to exigencia",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.RejectDocument(ctx, engine.RejectDocumentInput{DocumentID: args[0], Reason: reason, Actor: actor()})
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required)")
	return cmd
}

func docResubmitCmd() *cobra.Command {
	var fileURL, justification string
	cmd := &cobra.Command{
		Use:   "resubmit <document-id>",
		Short: "Resubmit a corrected document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.ResubmitDocument(ctx, engine.ResubmitDocumentInput{
					DocumentID:    args[0],
					FileURL:       fileURL,
					Justification: justification,
					Actor:         actor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&fileURL, "url", "", "URL of the corrected file (required)")
	cmd.Flags().StringVar(&justification, "justification", "", "correction justification (required)")
	return cmd
}
