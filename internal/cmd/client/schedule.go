package client

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// NewScheduleCommand constructs the `schedule` command group and subcommands.
func NewScheduleCommand(baseURL BaseURLFunc) *cobra.Command {
	scheduleCmd := &cobra.Command{Use: "schedule", Short: "Scheduled task operations"}

	scheduleCmd.AddCommand(
		newScheduleListCommand(baseURL),
		newScheduleGetCommand(baseURL),
		newScheduleCreateCommand(baseURL),
		newScheduleDeleteCommand(baseURL),
		newSchedulePauseCommand(baseURL),
		newScheduleResumeCommand(baseURL),
		newScheduleExecuteCommand(baseURL),
		newScheduleHistoryCommand(baseURL),
	)

	return scheduleCmd
}

func newScheduleListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(baseURL, "/v1/schedules")
		},
	}
}

func newScheduleGetCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(baseURL, "/v1/schedules/get?id="+url.QueryEscape(args[0]))
		},
	}
}

func newScheduleCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName, _ := cmd.Flags().GetString("queue")
			cronExpr, _ := cmd.Flags().GetString("cron")
			msgType, _ := cmd.Flags().GetString("type")
			timezone, _ := cmd.Flags().GetString("timezone")
			maxOccurrences, _ := cmd.Flags().GetInt("max-occurrences")
			payloadStr, _ := cmd.Flags().GetString("payload")
			payload, err := parsePayload(payloadStr)
			if err != nil {
				return err
			}
			body := map[string]any{
				"name":   args[0],
				"queue":  queueName,
				"cron":   cronExpr,
				"type":   msgType,
				"active": true,
			}
			if len(payload) > 0 {
				body["payload"] = json.RawMessage(payload)
			}
			if timezone != "" {
				body["timezone"] = timezone
			}
			if maxOccurrences > 0 {
				body["maxOccurrences"] = maxOccurrences
			}
			return postJSON(baseURL, "/v1/schedules/create", body)
		},
	}
	createCmd.Flags().String("queue", "", "target queue")
	createCmd.Flags().String("cron", "", "cron expression")
	createCmd.Flags().String("type", "", "message type for emitted messages")
	createCmd.Flags().String("timezone", "", "IANA timezone (default UTC)")
	createCmd.Flags().Int("max-occurrences", 0, "stop after N runs (0 = unbounded)")
	createCmd.Flags().String("payload", "", "JSON payload, or @path to read from a file")
	return createCmd
}

func newScheduleDeleteCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL, "/v1/schedules/delete", map[string]string{"id": args[0]})
		},
	}
}

func newSchedulePauseCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL, "/v1/schedules/pause", map[string]string{"id": args[0]})
		},
	}
}

func newScheduleResumeCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL, "/v1/schedules/resume", map[string]string{"id": args[0]})
		},
	}
}

func newScheduleExecuteCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <id>",
		Short: "Run a scheduled task now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL, "/v1/schedules/execute", map[string]string{"id": args[0]})
		},
	}
}

func newScheduleHistoryCommand(baseURL BaseURLFunc) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show recent runs of a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			path := "/v1/schedules/history?id=" + url.QueryEscape(args[0])
			if limit > 0 {
				path += "&limit=" + strconv.Itoa(limit)
			}
			return getJSON(baseURL, path)
		},
	}
	historyCmd.Flags().Int("limit", 0, "max entries to return")
	return historyCmd
}
