// Package httpengine provides the HTTP implementation of the realtimedb client.
//
// It executes one-shot operations as plain REST requests and keeps change streams open as
// server-sent event connections, reconnecting with a configurable delay until the last listener is removed.
//
// Key features:
//   - Read, write, update, push and delete with the error taxonomy of package realtimedb
//   - Listeners for ValueChanged, ChildAdded, ChildRemoved and ChildChanged events
//   - One shared connection per distinct listen request (location, filters, ordering, shallow)
//   - Per-listener ordered delivery, isolated from slow or panicking listeners
//   - Optional logging, metrics, tracing and stream status callbacks
//
// Usage examples:
//
//	// Basic usage
//	client, _ := httpengine.NewClient("https://my-db.firebaseio.com")
//	defer client.Close()
//
//	// Authenticated, with logging and metrics
//	client, _ := httpengine.NewClient(
//		"https://my-db.firebaseio.com",
//		httpengine.WithCredentials(realtimedb.StaticToken(token)),
//		httpengine.WithLogger(slog.Default()),
//		httpengine.WithMetrics(collector),
//	)
//
//	messages := realtimedb.Root().Child("chat").Child("messages")
//	key, _ := client.Push(ctx, messages, Message{Text: "hello"})
//
//	sub, _ := client.ChildAdded(messages, func(e realtimedb.ChangeEvent) {
//		var m Message
//		_ = e.Decode(&m)
//	}, false)
//	defer sub.Close()
package httpengine
