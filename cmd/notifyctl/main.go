package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/config"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/internal/service"
	"notifyhub/pkg/db"
	"notifyhub/pkg/kafka"
	"notifyhub/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:          "notifyctl",
		Short:        "notifyhub operator CLI",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newPublishCommand(), newDLQCommand(), newNotificationCommand())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewLogger(cfg.Log.Level), nil
}

func newPublishCommand() *cobra.Command {
	var (
		eventType string
		users     []int64
		channels  []string
		title     string
		message   string
		metadata  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a notification event to the intake topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ev := &model.Event{
				EventType: model.EventType(strings.ToUpper(eventType)),
				UserIDs:   users,
				Title:     title,
				Message:   message,
				Metadata:  metadata,
			}
			for _, c := range channels {
				ev.Channels = append(ev.Channels, model.Channel(strings.ToUpper(c)))
			}
			if err := ev.Validate(); err != nil {
				return fmt.Errorf("invalid event: %w", err)
			}

			producer, err := kafka.NewProducer(cfg.Kafka)
			if err != nil {
				return err
			}
			defer producer.Close()

			key := strconv.FormatInt(users[0], 10)
			partition, offset, err := producer.Publish(cmd.Context(), key, mqcontracts.FromEvent(ev))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s partition=%d offset=%d\n", cfg.Kafka.Topic, partition, offset)
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", string(model.EventRentalRequestCreated), "event type")
	cmd.Flags().Int64SliceVar(&users, "users", nil, "target user ids (comma separated)")
	cmd.Flags().StringSliceVar(&channels, "channels", []string{string(model.ChannelPush)}, "channels: PUSH, EMAIL, SMS")
	cmd.Flags().StringVar(&title, "title", "", "notification title")
	cmd.Flags().StringVar(&message, "message", "", "notification message")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "metadata key=value pairs")
	_ = cmd.MarkFlagRequired("users")
	return cmd
}

func newDLQCommand() *cobra.Command {
	dlqCmd := &cobra.Command{Use: "dlq", Short: "Inspect and retry dead letters"}

	withStore := func(run func(ctx context.Context, dlq *service.DeadLetterService, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			pool, err := db.NewConnection(cfg.DB, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			dlq := service.NewDeadLetterService(repository.NewDeadLetterRepository(pool), nil, log)
			return run(cmd.Context(), dlq, cmd.OutOrStdout())
		}
	}

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Number of unprocessed dead letters",
		RunE: withStore(func(ctx context.Context, dlq *service.DeadLetterService, out io.Writer) error {
			n, err := dlq.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, n)
			return nil
		}),
	}

	var days int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List unprocessed dead letters older than --days",
		RunE: withStore(func(ctx context.Context, dlq *service.DeadLetterService, out io.Writer) error {
			entries, err := dlq.ListOlderThan(ctx, days)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}),
	}
	listCmd.Flags().IntVar(&days, "days", service.DefaultDaysOld, "minimum age in days")

	// 重试需要推送通道，交给运行中的服务执行
	var server string
	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Ask a running server to retry all unprocessed dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimRight(server, "/") + "/api/notifications/dlq/retry"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, nil)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 5 * time.Minute}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("retry failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
			}
			var report service.RetryReport
			if err := json.Unmarshal(body, &report); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d succeeded=%d failed=%d\n", report.Attempted, report.Succeeded, report.Failed)
			return nil
		},
	}
	retryCmd.Flags().StringVar(&server, "server", "http://localhost:8080", "notifyhub base URL")

	dlqCmd.AddCommand(countCmd, listCmd, retryCmd)
	return dlqCmd
}

func newNotificationCommand() *cobra.Command {
	notificationCmd := &cobra.Command{Use: "notification", Short: "Inspect and clean up stored notifications"}

	withQueries := func(run func(ctx context.Context, q *service.NotificationQuery, id int64, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid notification id %q: %w", args[0], err)
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			pool, err := db.NewConnection(cfg.DB, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			q := service.NewNotificationQuery(repository.NewNotificationRepository(pool, log), log)
			return run(cmd.Context(), q, id, cmd.OutOrStdout())
		}
	}

	unitsCmd := &cobra.Command{
		Use:   "units <notification-id>",
		Short: "List the delivery units of a notification",
		Args:  cobra.ExactArgs(1),
		RunE: withQueries(func(ctx context.Context, q *service.NotificationQuery, id int64, out io.Writer) error {
			units, err := q.Units(ctx, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(units)
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <notification-id>",
		Short: "Delete a notification and all of its delivery units",
		Args:  cobra.ExactArgs(1),
		RunE: withQueries(func(ctx context.Context, q *service.NotificationQuery, id int64, out io.Writer) error {
			if err := q.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted notification %d\n", id)
			return nil
		}),
	}

	notificationCmd.AddCommand(unitsCmd, deleteCmd)
	return notificationCmd
}
