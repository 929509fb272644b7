package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/app"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/engine/auth"
	"gigline/internal/repo"
)

func missionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mission", Short: "Post, list and move missions"}
	cmd.AddCommand(missionCreateCmd(), missionListCmd(), missionShowCmd())
	moves := []struct {
		use, short string
		run        func(engine.Engine, context.Context, string, auth.Actor) (domain.Mission, error)
	}{
		{"reserve", "Hold an OPEN mission for the acting worker", engine.Engine.ReserveMission},
		{"claim", "Claim a mission for the acting worker", engine.Engine.ClaimMission},
		{"start", "Start an assigned mission", engine.Engine.StartMission},
		{"complete", "Complete a mission in progress", engine.Engine.CompleteMission},
		{"cancel", "Cancel a mission", engine.Engine.CancelMission},
	}
	for _, mv := range moves {
		run := mv.run
		cmd.AddCommand(&cobra.Command{
			Use:   mv.use + " <mission-id>",
			Short: mv.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor auth.Actor) error {
					m, err := run(rt.Engine, ctx, args[0], actor)
					if err != nil {
						return err
					}
					return printMissions(cmd.OutOrStdout(), m)
				})
			},
		})
	}
	return cmd
}

func missionCreateCmd() *cobra.Command {
	var opts engine.MissionCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a mission as the acting employer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor auth.Actor) error {
				m, err := rt.Engine.CreateMission(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printMissions(cmd.OutOrStdout(), m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "mission title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "mission description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	cmd.Flags().Int64Var(&opts.PriceCents, "price", 0, "price in minor units")
	cmd.Flags().Float64Var(&opts.Location.Lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&opts.Location.Lng, "lng", 0, "longitude")
	return cmd
}

func missionListCmd() *cobra.Command {
	var f repo.MissionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				missions, err := rt.Engine.ListMissions(ctx, f)
				if err != nil {
					return err
				}
				return printMissions(cmd.OutOrStdout(), missions...)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "employer filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "worker filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "page size")
	return cmd
}

func missionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show a mission with its contract and payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				m, err := rt.Engine.GetMission(ctx, args[0])
				if err != nil {
					return err
				}
				payments, err := rt.Engine.Repo.ListPaymentsForMission(ctx, m.ID)
				if err != nil {
					return err
				}
				out := map[string]any{"mission": m, "payments": payments}
				if c, err := rt.Engine.Repo.GetContractByMission(ctx, nil, m.ID); err == nil {
					out["contract"] = c
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func contractCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "contract", Short: "Inspect and sign mission contracts"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show the contract, creating the draft if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor auth.Actor) error {
				c, err := rt.Engine.ViewContract(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printContract(cmd.OutOrStdout(), c)
			})
		},
	})
	cmd.AddCommand(contractNonceCmd("sign", "Sign as the acting party with the current nonce", engine.Engine.SignContract))
	cmd.AddCommand(contractNonceCmd("reject", "Reject the contract with the current nonce", engine.Engine.RejectContract))
	return cmd
}

func contractNonceCmd(use, short string, run func(engine.Engine, context.Context, string, auth.Actor, string) (domain.Contract, error)) *cobra.Command {
	var nonce string
	cmd := &cobra.Command{
		Use:   use + " <mission-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if nonce == "" {
				return fmt.Errorf("--nonce required")
			}
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor auth.Actor) error {
				c, err := run(rt.Engine, ctx, args[0], actor, nonce)
				if err != nil {
					return err
				}
				return printContract(cmd.OutOrStdout(), c)
			})
		},
	}
	cmd.Flags().StringVar(&nonce, "nonce", "", "signature nonce presented by the signer")
	return cmd
}

func paymentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "payment", Short: "Create and settle mission payments"}
	cmd.AddCommand(paymentCreateCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "show <payment-id>",
		Short: "Show a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.GetPayment(ctx, args[0])
				if err != nil {
					return err
				}
				return printPayments(cmd.OutOrStdout(), p)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list <mission-id>",
		Short: "List payments of a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				payments, err := rt.Engine.Repo.ListPaymentsForMission(ctx, args[0])
				if err != nil {
					return err
				}
				return printPayments(cmd.OutOrStdout(), payments...)
			})
		},
	})
	settle := []struct {
		use, short string
		run        func(engine.Engine, context.Context, string, auth.Actor) (domain.Payment, error)
	}{
		{"capture", "Capture an authorized payment", engine.Engine.CapturePayment},
		{"refund", "Refund a captured payment", engine.Engine.RefundPayment},
	}
	for _, s := range settle {
		run := s.run
		cmd.AddCommand(&cobra.Command{
			Use:   s.use + " <payment-id>",
			Short: s.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor auth.Actor) error {
					p, err := run(rt.Engine, ctx, args[0], actor)
					if err != nil {
						return err
					}
					return printPayments(cmd.OutOrStdout(), p)
				})
			},
		})
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "webhooks <payment-id>",
		Short: "List provider webhook deliveries recorded for a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListWebhookEvents(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), items)
				}
				tw := newTable(cmd.OutOrStdout(), table.Row{"Seq", "Event", "Status", "Outcome", "Received"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.Seq, ev.ProviderEventID, ev.Status, ev.Outcome, ev.ReceivedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func paymentCreateCmd() *cobra.Command {
	var amount int64
	var key string
	cmd := &cobra.Command{
		Use:   "create <mission-id>",
		Short: "Create (or replay) a payment intent for a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = uuid.NewString()
			}
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor auth.Actor) error {
				if amount == 0 {
					m, err := rt.Engine.GetMission(ctx, args[0])
					if err != nil {
						return err
					}
					amount = m.PriceCents
				}
				res, err := rt.Engine.CreatePaymentIntent(ctx, args[0], actor, amount, key)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), res)
				}
				if res.Cached {
					fmt.Fprintln(cmd.OutOrStdout(), "replayed existing payment for idempotency key")
				}
				return printPayments(cmd.OutOrStdout(), res.Payment)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in minor units (defaults to the mission price)")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (random when empty)")
	return cmd
}

func webhookCmd() *cobra.Command {
	var eventID, paymentID, status string
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Deliver a provider status notification to the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if paymentID == "" || status == "" {
				return fmt.Errorf("--payment and --status required")
			}
			if eventID == "" {
				eventID = "evt_" + uuid.NewString()
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.HandlePaymentWebhook(ctx, eventID, paymentID, status)
				if err != nil && !res.Duplicate && res.Outcome != domain.WebhookOutOfOrder {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event-id", "", "provider event id (random when empty)")
	cmd.Flags().StringVar(&paymentID, "payment", "", "payment id")
	cmd.Flags().StringVar(&status, "status", "", "new payment status")
	return cmd
}

func printMissions(w io.Writer, missions ...domain.Mission) error {
	if viper.GetBool("json") {
		if len(missions) == 1 {
			return printJSON(w, missions[0])
		}
		return printJSON(w, missions)
	}
	tw := newTable(w, table.Row{"ID", "Title", "Status", "Price", "Employer", "Assignee"})
	for _, m := range missions {
		assignee := derefString(m.AssignedTo)
		if assignee == "" && m.ReservedBy != nil {
			assignee = *m.ReservedBy + " (reserved)"
		}
		tw.AppendRow(table.Row{m.ID, m.Title, m.Status, m.PriceCents, m.CreatedBy, assignee})
	}
	tw.Render()
	return nil
}

func printContract(w io.Writer, c domain.Contract) error {
	if viper.GetBool("json") {
		return printJSON(w, c)
	}
	tw := newTable(w, table.Row{"ID", "Mission", "Status", "Worker", "Employer", "Nonce"})
	tw.AppendRow(table.Row{c.ID, c.MissionID, c.Status, c.SignedByWorker, c.SignedByEmployer, c.Nonce})
	tw.Render()
	return nil
}

func printPayments(w io.Writer, payments ...domain.Payment) error {
	if viper.GetBool("json") {
		if len(payments) == 1 {
			return printJSON(w, payments[0])
		}
		return printJSON(w, payments)
	}
	tw := newTable(w, table.Row{"ID", "Mission", "Status", "Amount", "Key", "Provider Ref", "Attempts"})
	for _, p := range payments {
		tw.AppendRow(table.Row{p.ID, p.MissionID, p.Status, fmt.Sprintf("%d %s", p.AmountCents, p.Currency), p.IdempotencyKey, derefString(p.ProviderRef), p.Attempts})
	}
	tw.Render()
	return nil
}
