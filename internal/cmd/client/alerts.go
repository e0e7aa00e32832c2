package client

import (
	"strings"

	"github.com/spf13/cobra"
)

// NewAlertCommand constructs the `alert` command group and subcommands.
func NewAlertCommand(baseURL BaseURLFunc) *cobra.Command {
	alertCmd := &cobra.Command{Use: "alert", Short: "Alerting operations"}

	ruleCmd := &cobra.Command{Use: "rule", Short: "Alert rules"}
	ruleCmd.AddCommand(
		newAlertRuleListCommand(baseURL),
		newAlertRuleCreateCommand(baseURL),
		newAlertRuleDeleteCommand(baseURL),
	)

	alertCmd.AddCommand(
		ruleCmd,
		newAlertListCommand(baseURL),
		newAlertResolveCommand(baseURL),
	)

	return alertCmd
}

func newAlertRuleListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List alert rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(baseURL, "/v1/alerts/rules")
		},
	}
}

func newAlertRuleCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an alert rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName, _ := cmd.Flags().GetString("queue")
			metric, _ := cmd.Flags().GetString("metric")
			threshold, _ := cmd.Flags().GetFloat64("threshold")
			comparison, _ := cmd.Flags().GetString("comparison")
			severity, _ := cmd.Flags().GetString("severity")
			cooldownMs, _ := cmd.Flags().GetInt64("cooldown-ms")
			channels, _ := cmd.Flags().GetString("channels")
			body := map[string]any{
				"name":       args[0],
				"metric":     metric,
				"threshold":  threshold,
				"comparison": comparison,
				"severity":   severity,
				"cooldownMs": cooldownMs,
				"active":     true,
			}
			if queueName != "" {
				body["queue"] = queueName
			}
			if channels != "" {
				body["channels"] = strings.Split(channels, ",")
			}
			return postJSON(baseURL, "/v1/alerts/rules/create", body)
		},
	}
	createCmd.Flags().String("queue", "", "queue name (empty = all queues)")
	createCmd.Flags().String("metric", "queue_depth", "metric to watch")
	createCmd.Flags().Float64("threshold", 0, "metric threshold")
	createCmd.Flags().String("comparison", "gt", "comparison operator (gt|gte|lt|lte|eq)")
	createCmd.Flags().String("severity", "warning", "severity (info|warning|critical)")
	createCmd.Flags().Int64("cooldown-ms", 300_000, "minimum gap between fires")
	createCmd.Flags().String("channels", "", "comma-separated notification channels")
	return createCmd
}

func newAlertRuleDeleteCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an alert rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL, "/v1/alerts/rules/delete", map[string]string{"id": args[0]})
		},
	}
}

func newAlertListCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/alerts"
			if active, _ := cmd.Flags().GetBool("active"); active {
				path += "?active=true"
			}
			return getJSON(baseURL, path)
		},
	}
	listCmd.Flags().Bool("active", false, "only unresolved alerts")
	return listCmd
}

func newAlertResolveCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark an alert resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL, "/v1/alerts/resolve", map[string]string{"id": args[0]})
		},
	}
}
