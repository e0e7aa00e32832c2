// Package client provides the `queued` command-line client.
//
// The CLI talks to the broker's HTTP API to perform common queue,
// rule, schedule, scaling, and alerting operations from a terminal.
// It is primarily intended for developers and operators.
//
// Installation
//
//	go install github.com/freelancing-solutions/jobfinders-mvp-sub000/cmd/queued@latest
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. The standalone binary reads MQ_HTTP and
// defaults to http://127.0.0.1:7870.
//
// Usage
//
//	queued queue create orders --max-length 10000 --dead-letter orders.dlq
//
//	queued queue enqueue orders \
//	    --type order.created \
//	    --payload '{"amount": 125, "region": "eu"}' \
//	    --metadata source=cli --priority high
//
//	queued queue stats orders
//	queued queue stats                 # all queues
//
//	queued rule filter create block-test \
//	    --condition 'message.type.startsWith("test.")' --action reject
//	queued rule throttle create per-user \
//	    --key 'message.metadata["userId"]' --limit 100 --window-ms 60000
//
//	queued schedule create nightly-report \
//	    --queue reports --cron "0 2 * * *" --type report.generate
//	queued schedule execute <id>       # run once, outside the cron cadence
//
//	queued scaling policy create drain-orders \
//	    --queue orders --metric queue_depth --threshold 1000 --max 16
//	queued scaling scale orders 8 --reason "black friday"
//
//	queued alert rule create depth-warn \
//	    --queue orders --metric queue_depth --threshold 5000 --severity warning
//	queued alert list --active
//
// Notes
//
//   - enqueue accepts repeated --metadata key=value flags; --payload takes
//     inline JSON or @path to read a file.
//   - --dry-run on enqueue evaluates the rule pipeline and reports the
//     outcome without appending the message.
package client
