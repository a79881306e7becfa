// Package watch delivers change notifications for committed transactions.
//
// The engine diffs each commit against the previous version and publishes
// one ChangeSet per modified bucket. Publishing never blocks: every
// subscription owns a multi-producer single-consumer queue and a delivery
// goroutine, so a slow subscriber only grows its own queue.
//
// Delivery guarantees:
//   - change sets arrive in commit order per subscription
//   - a change set is only published after its commit is durable
//   - subscribers registered after a commit do not see that commit
package watch
