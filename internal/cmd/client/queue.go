package client

import (
	"encoding/json"
	"net/url"

	"github.com/spf13/cobra"
)

// NewQueueCommand constructs the `queue` command group and subcommands.
func NewQueueCommand(baseURL BaseURLFunc) *cobra.Command {
	queueCmd := &cobra.Command{Use: "queue", Short: "Queue operations"}

	queueCmd.AddCommand(
		newQueueListCommand(baseURL),
		newQueueGetCommand(baseURL),
		newQueueCreateCommand(baseURL),
		newQueueDeleteCommand(baseURL),
		newQueueStatsCommand(baseURL),
		newQueueEnqueueCommand(baseURL),
		newQueueConsumersCommand(baseURL),
	)

	return queueCmd
}

func newQueueListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(baseURL, "/v1/queues")
		},
	}
}

func newQueueGetCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show one queue's configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(baseURL, "/v1/queues/get?name="+url.QueryEscape(args[0]))
		},
	}
}

func newQueueCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"name": args[0]}
			if v, _ := cmd.Flags().GetInt("max-length"); v > 0 {
				body["maxLength"] = v
			}
			if v, _ := cmd.Flags().GetInt("priority-weight"); v > 0 {
				body["priorityWeight"] = v
			}
			if v, _ := cmd.Flags().GetInt("batch-size"); v > 0 {
				body["batchSize"] = v
			}
			if v, _ := cmd.Flags().GetString("dead-letter"); v != "" {
				body["deadLetterQueue"] = v
			}
			if v, _ := cmd.Flags().GetBool("persistent"); v {
				body["persistent"] = true
			}
			if v, _ := cmd.Flags().GetUint32("partitions"); v > 0 {
				body["partitions"] = v
			}
			return postJSON(baseURL, "/v1/queues/create", body)
		},
	}
	createCmd.Flags().Int("max-length", 0, "maximum queue length (0 = unbounded)")
	createCmd.Flags().Int("priority-weight", 0, "weight for cross-queue dispatch")
	createCmd.Flags().Int("batch-size", 0, "consumer batch size")
	createCmd.Flags().String("dead-letter", "", "dead-letter queue name")
	createCmd.Flags().Bool("persistent", false, "persist messages across restarts")
	createCmd.Flags().Uint32("partitions", 0, "partition count")
	return createCmd
}

func newQueueDeleteCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a queue and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL, "/v1/queues/delete", map[string]string{"name": args[0]})
		},
	}
}

func newQueueStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [name]",
		Short: "Show queue statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/queues/stats"
			if len(args) == 1 {
				path += "?name=" + url.QueryEscape(args[0])
			}
			return getJSON(baseURL, path)
		},
	}
}

func newQueueEnqueueCommand(baseURL BaseURLFunc) *cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue <queue>",
		Short: "Enqueue a message (payload inline or @file)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payloadStr, _ := cmd.Flags().GetString("payload")
			payload, err := parsePayload(payloadStr)
			if err != nil {
				return err
			}
			metaPairs, _ := cmd.Flags().GetStringArray("metadata")
			meta, err := parseMetadata(metaPairs)
			if err != nil {
				return err
			}
			msgType, _ := cmd.Flags().GetString("type")
			priority, _ := cmd.Flags().GetString("priority")
			delayMs, _ := cmd.Flags().GetInt64("delay-ms")
			ttlMs, _ := cmd.Flags().GetInt64("ttl-ms")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			correlationID, _ := cmd.Flags().GetString("correlation-id")
			replyTo, _ := cmd.Flags().GetString("reply-to")
			skipRules, _ := cmd.Flags().GetBool("skip-rules")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			body := map[string]any{
				"queue":   args[0],
				"type":    msgType,
				"payload": json.RawMessage(payload),
			}
			if priority != "" {
				body["priority"] = priority
			}
			if delayMs > 0 {
				body["delayMs"] = delayMs
			}
			if ttlMs > 0 {
				body["ttlMs"] = ttlMs
			}
			if maxAttempts > 0 {
				body["maxAttempts"] = maxAttempts
			}
			if correlationID != "" {
				body["correlationId"] = correlationID
			}
			if replyTo != "" {
				body["replyTo"] = replyTo
			}
			if len(meta) > 0 {
				body["metadata"] = meta
			}
			if skipRules {
				body["skipRules"] = true
			}
			if dryRun {
				body["dryRun"] = true
			}
			return postJSON(baseURL, "/v1/queues/enqueue", body)
		},
	}
	enqueueCmd.Flags().String("payload", "", "JSON payload, or @path to read from a file")
	enqueueCmd.Flags().String("type", "", "message type")
	enqueueCmd.Flags().String("priority", "", "message priority (low|normal|high)")
	enqueueCmd.Flags().Int64("delay-ms", 0, "delivery delay in milliseconds")
	enqueueCmd.Flags().Int64("ttl-ms", 0, "time-to-live in milliseconds")
	enqueueCmd.Flags().Int("max-attempts", 0, "override retry attempt limit")
	enqueueCmd.Flags().String("correlation-id", "", "correlation id")
	enqueueCmd.Flags().String("reply-to", "", "reply-to queue")
	enqueueCmd.Flags().StringArray("metadata", nil, "metadata key=value (repeatable)")
	enqueueCmd.Flags().Bool("skip-rules", false, "bypass the rules pipeline")
	enqueueCmd.Flags().Bool("dry-run", false, "evaluate rules without enqueueing")
	return enqueueCmd
}

func newQueueConsumersCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "consumers [queue]",
		Short: "List registered consumers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/queues/consumers"
			if len(args) == 1 {
				path += "?queue=" + url.QueryEscape(args[0])
			}
			return getJSON(baseURL, path)
		},
	}
}
