package client

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewScalingCommand constructs the `scaling` command group and subcommands.
func NewScalingCommand(baseURL BaseURLFunc) *cobra.Command {
	scalingCmd := &cobra.Command{Use: "scaling", Short: "Consumer scaling operations"}

	policyCmd := &cobra.Command{Use: "policy", Short: "Scaling policies"}
	policyCmd.AddCommand(
		newScalingPolicyListCommand(baseURL),
		newScalingPolicyCreateCommand(baseURL),
		newScalingPolicyDeleteCommand(baseURL),
	)

	scalingCmd.AddCommand(
		policyCmd,
		newScalingEventsCommand(baseURL),
		newScalingScaleCommand(baseURL),
	)

	return scalingCmd
}

func newScalingPolicyListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scaling policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(baseURL, "/v1/scaling/policies")
		},
	}
}

func newScalingPolicyCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a scaling policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName, _ := cmd.Flags().GetString("queue")
			metric, _ := cmd.Flags().GetString("metric")
			threshold, _ := cmd.Flags().GetFloat64("threshold")
			comparison, _ := cmd.Flags().GetString("comparison")
			upStep, _ := cmd.Flags().GetInt("up-step")
			downStep, _ := cmd.Flags().GetInt("down-step")
			minC, _ := cmd.Flags().GetInt("min")
			maxC, _ := cmd.Flags().GetInt("max")
			cooldownMs, _ := cmd.Flags().GetInt64("cooldown-ms")
			return postJSON(baseURL, "/v1/scaling/policies/create", map[string]any{
				"name":          args[0],
				"queue":         queueName,
				"metric":        metric,
				"threshold":     threshold,
				"comparison":    comparison,
				"scaleUpStep":   upStep,
				"scaleDownStep": downStep,
				"minConsumers":  minC,
				"maxConsumers":  maxC,
				"cooldownMs":    cooldownMs,
				"active":        true,
			})
		},
	}
	createCmd.Flags().String("queue", "", "queue name, or * for all queues")
	createCmd.Flags().String("metric", "queue_depth", "metric to watch")
	createCmd.Flags().Float64("threshold", 0, "metric threshold")
	createCmd.Flags().String("comparison", "gt", "comparison operator (gt|gte|lt|lte|eq)")
	createCmd.Flags().Int("up-step", 1, "consumers added per scale-up")
	createCmd.Flags().Int("down-step", 1, "consumers removed per scale-down")
	createCmd.Flags().Int("min", 1, "minimum consumer count")
	createCmd.Flags().Int("max", 10, "maximum consumer count")
	createCmd.Flags().Int64("cooldown-ms", 60_000, "cooldown between scaling actions")
	return createCmd
}

func newScalingPolicyDeleteCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a scaling policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL, "/v1/scaling/policies/delete", map[string]string{"id": args[0]})
		},
	}
}

func newScalingEventsCommand(baseURL BaseURLFunc) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent scaling events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			path := "/v1/scaling/events"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			return getJSON(baseURL, path)
		},
	}
	eventsCmd.Flags().Int("limit", 0, "max events to return")
	return eventsCmd
}

func newScalingScaleCommand(baseURL BaseURLFunc) *cobra.Command {
	scaleCmd := &cobra.Command{
		Use:   "scale <queue> <target>",
		Short: "Manually set a queue's consumer count",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")
			return postJSON(baseURL, "/v1/scaling/scale", map[string]any{
				"queue":  args[0],
				"target": target,
				"reason": reason,
			})
		},
	}
	scaleCmd.Flags().String("reason", "", "operator note recorded with the event")
	return scaleCmd
}
