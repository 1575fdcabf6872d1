package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stakeline/internal/app"
	"stakeline/internal/domain"
	"stakeline/internal/engine"
	"stakeline/internal/repo"
	"stakeline/internal/server"
	"stakeline/internal/sweeper"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stakeline CLI",
	Long: `Stakeline holds people to their commitments.
A commitment has a deadline, a stake and an evidence policy. Miss the
deadline and the grace period, and the sweeper fails it; submit evidence
and either self-verify or wait for a reviewer. Failed commitments can be
appealed through complaints, and money stakes get refunded when an appeal
is approved. Recurring commitments spawn their next window on completion
or failure. Everything lands in an event log ('sl log tail').`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STAKELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(commitmentCmd())
	rootCmd.AddCommand(complaintCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	appCtx, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Engine)
}

func userID() string {
	return viper.GetString("user-id")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func commitmentCmd() *cobra.Command {
	c := &cobra.Command{Use: "commitment", Short: "Manage commitments"}
	c.AddCommand(commitmentCreateCmd())
	c.AddCommand(commitmentListCmd())
	c.AddCommand(commitmentShowCmd())
	c.AddCommand(commitmentEvidenceCmd())
	c.AddCommand(commitmentTransitionCmd("activate", "Activate a draft commitment", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.Activate(ctx, id, userID())
	}))
	c.AddCommand(commitmentTransitionCmd("pause", "Pause an active commitment", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.Pause(ctx, id, userID())
	}))
	c.AddCommand(commitmentTransitionCmd("resume", "Resume a paused commitment", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.Resume(ctx, id, userID())
	}))
	c.AddCommand(commitmentTransitionCmd("cancel", "Cancel a commitment", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.Cancel(ctx, id, userID())
	}))
	c.AddCommand(commitmentTransitionCmd("complete", "Mark a commitment completed", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		res, _, err := e.MarkCompleted(ctx, id, userID())
		return res, err
	}))
	c.AddCommand(commitmentFailCmd())
	return c
}

func commitmentCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	var start, end, stakeAmount string
	var evidenceOptional bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft commitment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.UserID = userID()
				opts.ActorID = userID()
				opts.StakeAmount = stakeAmount
				if start != "" {
					t, err := time.Parse(time.RFC3339, start)
					if err != nil {
						return fmt.Errorf("invalid --start: %w", err)
					}
					opts.StartTime = t
				}
				if end != "" {
					t, err := time.Parse(time.RFC3339, end)
					if err != nil {
						return fmt.Errorf("invalid --end: %w", err)
					}
					opts.EndTime = t
				}
				if evidenceOptional {
					f := false
					opts.EvidenceRequired = &f
				}
				c, err := e.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "commitment title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&start, "start", "", "start time (RFC3339, default now)")
	cmd.Flags().StringVar(&end, "end", "", "deadline (RFC3339)")
	cmd.Flags().StringVar(&opts.Frequency, "frequency", "", "one_time|daily|weekly|monthly")
	cmd.Flags().StringVar(&opts.StakeType, "stake", "", "social|points|money")
	cmd.Flags().StringVar(&stakeAmount, "amount", "", "stake amount (money stakes)")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "stake currency")
	cmd.Flags().StringVar(&opts.Leniency, "leniency", "", "lenient|normal|hard")
	cmd.Flags().StringVar(&opts.EvidenceType, "evidence-type", "", "self_verification|photo|timelapse_video|manual")
	cmd.Flags().BoolVar(&evidenceOptional, "no-evidence", false, "complete without evidence")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func commitmentListCmd() *cobra.Command {
	var f repo.CommitmentFilters
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commitments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.UserID == "" && !all {
					f.UserID = userID()
				}
				items, err := e.Repo.ListCommitments(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Stake", "Deadline"})
				for _, c := range items {
					stake := c.StakeType
					if c.StakeAmount != nil {
						stake = fmt.Sprintf("%s %s %s", c.StakeType, *c.StakeAmount, c.Currency)
					}
					tw.AppendRow(table.Row{c.ID, c.Title, c.Status, stake, c.EndTime})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.UserID, "user", "", "owner filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	cmd.Flags().BoolVar(&all, "all", false, "list every user's commitments")
	return cmd
}

func commitmentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetCommitment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func commitmentTransitionCmd(use, short string, run func(context.Context, engine.Engine, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := run(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func commitmentFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Mark a commitment failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, _, err := e.MarkFailed(ctx, args[0], userID(), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	return cmd
}

func commitmentEvidenceCmd() *cobra.Command {
	var opts engine.SubmitEvidenceOptions
	cmd := &cobra.Command{
		Use:   "evidence <id>",
		Short: "Submit evidence for a commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ID = args[0]
				opts.ActorID = userID()
				c, err := e.SubmitEvidence(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.EvidenceType, "type", "", "self_verification|photo|timelapse_video|manual")
	cmd.Flags().StringVar(&opts.EvidenceFile, "file", "", "evidence file path")
	cmd.Flags().StringVar(&opts.EvidenceText, "text", "", "evidence notes")
	return cmd
}

func complaintCmd() *cobra.Command {
	c := &cobra.Command{Use: "complaint", Short: "Appeal failed commitments"}
	c.AddCommand(complaintFileCmd())
	c.AddCommand(complaintListCmd())
	c.AddCommand(complaintShowCmd())
	c.AddCommand(complaintApproveCmd())
	c.AddCommand(complaintRejectCmd())
	c.AddCommand(complaintRefundCmd())
	return c
}

func complaintFileCmd() *cobra.Command {
	var opts engine.FileComplaintOptions
	cmd := &cobra.Command{
		Use:   "file <commitment-id>",
		Short: "File a complaint against a failed commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.UserID = userID()
				opts.CommitmentID = args[0]
				c, err := e.FileComplaint(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ReasonCategory, "reason", "", "technical_issue|emergency|illness|evidence_issue|deadline_dispute|other")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what happened")
	cmd.Flags().StringVar(&opts.EvidenceFile, "file", "", "supporting file")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func complaintListCmd() *cobra.Command {
	var f repo.ComplaintFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List complaints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListComplaints(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Commitment", "Reason", "Status", "Refund"})
				for _, c := range items {
					refund := ""
					if c.RefundAmount != nil {
						refund = *c.RefundAmount
						if c.RefundProcessed {
							refund += " (processed)"
						}
					}
					tw.AppendRow(table.Row{c.ID, c.CommitmentID, c.ReasonCategory, c.Status, refund})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.UserID, "user", "", "owner filter")
	cmd.Flags().StringVar(&f.CommitmentID, "commitment", "", "commitment filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func complaintShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a complaint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetComplaint(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func complaintApproveCmd() *cobra.Command {
	var notes, refund string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a complaint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var refundPtr *string
				if refund != "" {
					refundPtr = &refund
				}
				c, err := e.ApproveComplaint(ctx, args[0], userID(), notes, refundPtr)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	cmd.Flags().StringVar(&refund, "refund", "", "refund amount (defaults to full stake)")
	return cmd
}

func complaintRejectCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a complaint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RejectComplaint(ctx, args[0], userID(), notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func complaintRefundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refund <id>",
		Short: "Mark an approved complaint's refund processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ProcessRefund(ctx, args[0], userID())
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func evidenceCmd() *cobra.Command {
	c := &cobra.Command{Use: "evidence", Short: "Review submitted evidence"}
	c.AddCommand(evidenceListCmd())
	c.AddCommand(evidenceReviewCmd("approve", "Approve evidence and complete the commitment", engine.Engine.ApproveEvidence))
	c.AddCommand(evidenceReviewCmd("reject", "Reject evidence and fail the commitment", engine.Engine.RejectEvidence))
	c.AddCommand(evidenceReviewCmd("request-info", "Ask the owner for more info", engine.Engine.RequestMoreInfo))
	return c
}

func evidenceListCmd() *cobra.Command {
	var f repo.VerificationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List evidence verifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListVerifications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Commitment", "Status", "Reviewer"})
				for _, v := range items {
					reviewer := ""
					if v.VerifiedBy != nil {
						reviewer = *v.VerifiedBy
					}
					tw.AppendRow(table.Row{v.ID, v.CommitmentID, v.Status, reviewer})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func evidenceReviewCmd(use, short string, run func(engine.Engine, context.Context, string, string, string) (domain.EvidenceVerification, error)) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   use + " <verification-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := run(e, ctx, args[0], userID(), notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func sweepCmd() *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the maintenance jobs once (or on a loop)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s := sweeper.New(e)
				if loop {
					fmt.Println("sweeping on configured intervals; Ctrl-C to stop")
					s.Run(ctx)
					return nil
				}
				counts := s.Sweep(ctx, e.Now())
				return printJSONOrTable(counts)
			})
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep sweeping on the configured intervals")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withSweeper bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer appCtx.Close()
			e := appCtx.Engine
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("STAKELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("STAKELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), e)
			if withSweeper {
				go sweeper.New(e).Run(cmd.Context())
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Stakeline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&withSweeper, "sweep", true, "run the background sweeper")
	return cmd
}
