package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the message queue client.
// It registers the queue, rule, schedule, scaling, and alert command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "queued",
		Short: "Message queue client commands",
	}
	root.AddCommand(NewQueueCommand(baseURL))
	root.AddCommand(NewRuleCommand(baseURL))
	root.AddCommand(NewScheduleCommand(baseURL))
	root.AddCommand(NewScalingCommand(baseURL))
	root.AddCommand(NewAlertCommand(baseURL))
	root.AddCommand(newHealthCommand(baseURL))
	root.AddCommand(newMetricsCommand(baseURL))
	return root
}

func newHealthCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show broker health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(baseURL, "/v1/healthz")
		},
	}
}

func newMetricsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show system metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(baseURL, "/v1/metrics")
		},
	}
}
