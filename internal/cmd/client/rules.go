package client

import (
	"github.com/spf13/cobra"
)

// NewRuleCommand constructs the `rule` command group and subcommands.
// Each rule kind (filter, throttle, priority, route) gets list/create/delete.
func NewRuleCommand(baseURL BaseURLFunc) *cobra.Command {
	ruleCmd := &cobra.Command{Use: "rule", Short: "Rule pipeline operations"}

	ruleCmd.AddCommand(
		newFilterRuleCommand(baseURL),
		newThrottleRuleCommand(baseURL),
		newPriorityRuleCommand(baseURL),
		newRouteRuleCommand(baseURL),
	)

	return ruleCmd
}

func newFilterRuleCommand(baseURL BaseURLFunc) *cobra.Command {
	filterCmd := &cobra.Command{Use: "filter", Short: "Filter rules"}
	filterCmd.AddCommand(newRuleListCommand(baseURL, "filters"))

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a filter rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			condition, _ := cmd.Flags().GetString("condition")
			action, _ := cmd.Flags().GetString("action")
			reason, _ := cmd.Flags().GetString("reason")
			body := map[string]any{
				"name":      args[0],
				"condition": condition,
				"action":    action,
				"active":    true,
			}
			if reason != "" {
				body["reason"] = reason
			}
			return postJSON(baseURL, "/v1/rules/filters/create", body)
		},
	}
	createCmd.Flags().String("condition", "", "CEL condition over the message")
	createCmd.Flags().String("action", "reject", "action when matched (accept|reject)")
	createCmd.Flags().String("reason", "", "rejection reason returned to producers")
	filterCmd.AddCommand(createCmd, newRuleDeleteCommand(baseURL, "filters"))
	return filterCmd
}

func newThrottleRuleCommand(baseURL BaseURLFunc) *cobra.Command {
	throttleCmd := &cobra.Command{Use: "throttle", Short: "Throttle rules"}
	throttleCmd.AddCommand(newRuleListCommand(baseURL, "throttles"))

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a throttle rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyExpr, _ := cmd.Flags().GetString("key")
			limit, _ := cmd.Flags().GetInt("limit")
			windowMs, _ := cmd.Flags().GetInt64("window-ms")
			return postJSON(baseURL, "/v1/rules/throttles/create", map[string]any{
				"name":     args[0],
				"keyExpr":  keyExpr,
				"limit":    limit,
				"windowMs": windowMs,
				"active":   true,
			})
		},
	}
	createCmd.Flags().String("key", "", "CEL expression producing the rate-limit key")
	createCmd.Flags().Int("limit", 0, "max messages per window")
	createCmd.Flags().Int64("window-ms", 0, "window length in milliseconds")
	throttleCmd.AddCommand(createCmd, newRuleDeleteCommand(baseURL, "throttles"))
	return throttleCmd
}

func newPriorityRuleCommand(baseURL BaseURLFunc) *cobra.Command {
	priorityCmd := &cobra.Command{Use: "priority", Short: "Priority rules"}
	priorityCmd.AddCommand(newRuleListCommand(baseURL, "priorities"))

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a priority rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			condition, _ := cmd.Flags().GetString("condition")
			score, _ := cmd.Flags().GetInt("score")
			queueName, _ := cmd.Flags().GetString("queue")
			body := map[string]any{
				"name":      args[0],
				"condition": condition,
				"score":     score,
				"active":    true,
			}
			if queueName != "" {
				body["queue"] = queueName
			}
			return postJSON(baseURL, "/v1/rules/priorities/create", body)
		},
	}
	createCmd.Flags().String("condition", "", "CEL condition over the message")
	createCmd.Flags().Int("score", 0, "score added when the condition matches")
	createCmd.Flags().String("queue", "", "restrict the rule to one queue")
	priorityCmd.AddCommand(createCmd, newRuleDeleteCommand(baseURL, "priorities"))
	return priorityCmd
}

func newRouteRuleCommand(baseURL BaseURLFunc) *cobra.Command {
	routeCmd := &cobra.Command{Use: "route", Short: "Routing rules"}
	routeCmd.AddCommand(newRuleListCommand(baseURL, "routes"))

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a routing rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			condition, _ := cmd.Flags().GetString("condition")
			target, _ := cmd.Flags().GetString("target")
			return postJSON(baseURL, "/v1/rules/routes/create", map[string]any{
				"name":        args[0],
				"condition":   condition,
				"targetQueue": target,
				"active":      true,
			})
		},
	}
	createCmd.Flags().String("condition", "", "CEL condition over the message")
	createCmd.Flags().String("target", "", "queue that matching messages move to")
	routeCmd.AddCommand(createCmd, newRuleDeleteCommand(baseURL, "routes"))
	return routeCmd
}

func newRuleListCommand(baseURL BaseURLFunc, kind string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules of this kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(baseURL, "/v1/rules/"+kind)
		},
	}
}

func newRuleDeleteCommand(baseURL BaseURLFunc, kind string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL, "/v1/rules/"+kind+"/delete", map[string]string{"id": args[0]})
		},
	}
}
