// Package sqsclient wraps the AWS SQS API (or a compatible emulator such
// as LocalStack) behind the three operations the sqsrun consumer needs:
// receiving message batches, batch deletion, and per-message visibility
// changes.
//
// Create a Client with [New], then call [Client.Init] once before any
// other method:
//
//	client, err := sqsclient.New(&awsCfg, queueURL, logger).Init(ctx)
//
// Init is not thread-safe; all other methods are safe for concurrent use
// after Init returns.
//
// DeleteBatch tolerates partial success: the SQS protocol limits a delete
// batch to 10 entries, so larger inputs are split into successive calls,
// and entries rejected by the service are logged rather than propagated.
// A message that fails to delete simply becomes visible again and is
// redelivered, preserving at-least-once semantics.
package sqsclient
