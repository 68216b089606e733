package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hybridprotocol/newsletter/internal/app"
	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/internal/tasks"
)

type opener func(ctx context.Context) (*app.App, error)

var (
	errBadBatchSize = errors.New("batch size must not be negative")
	errBadID        = errors.New("newsletter id must be a positive integer")
)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "newsletterctl",
		Short:         "Operate newsletter dispatch",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newSendCmd(open),
		newTestCmd(open),
		newProgressCmd(open),
		newMigrateCmd(open),
	)
	return root
}

// withApp opens the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, open opener, fn func(ctx context.Context, a *app.App) error) (err error) {
	ctx := cmd.Context()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(context.WithoutCancel(ctx)))
	}()
	return fn(ctx, a)
}

func newSendCmd(open opener) *cobra.Command {
	var (
		batchSize int
		inline    bool
	)
	cmd := &cobra.Command{
		Use:   "send <send-key>",
		Short: "Send a newsletter to every eligible recipient",
		Long: "Enqueues a bulk send for the worker. With --inline the send runs in this\n" +
			"process with the configured retries and the result is printed as JSON.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sendKey := strings.TrimSpace(args[0])
			if batchSize < 0 {
				return errBadBatchSize
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				if !inline {
					p := tasks.SendNewsletterPayload{SendKey: sendKey, BatchSize: batchSize}
					if err := tasks.EnqueueSend(ctx, a.Enqueuer, p); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "queued send of %s\n", sendKey)
					return nil
				}

				var res dispatch.Result
				_, err := a.Retrier.RunInline(ctx, func(ctx context.Context) error {
					var err error
					res, err = a.Dispatcher.Dispatch(ctx, sendKey, batchSize)
					return err
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "recipients per batch (0 uses NEWSLETTER_BATCH_SIZE)")
	cmd.Flags().BoolVar(&inline, "inline", false, "run the send in this process instead of the queue")
	return cmd
}

func newTestCmd(open opener) *cobra.Command {
	var inline bool
	cmd := &cobra.Command{
		Use:   "test <newsletter-id> <email>",
		Short: "Send one copy of a newsletter to a test address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return errBadID
			}
			addr, err := mail.ParseAddress(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("%w: %v", dispatch.ErrInvalidTestEmail, err)
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				if !inline {
					p := tasks.SendTestPayload{Email: addr.Address, NewsletterID: id}
					if err := tasks.EnqueueTest(ctx, a.Enqueuer, p); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "queued test send of newsletter %d to %s\n", id, addr.Address)
					return nil
				}

				if _, err := a.Retrier.RunInline(ctx, func(ctx context.Context) error {
					return a.Dispatcher.SendTest(ctx, id, addr.Address)
				}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent test of newsletter %d to %s\n", id, addr.Address)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&inline, "inline", false, "send in this process instead of the queue")
	return cmd
}

func newProgressCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <send-key>",
		Short: "Print the last progress snapshot of a send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				p, err := a.Dispatcher.Progress(ctx, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database and job queue migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
