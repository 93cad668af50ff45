// Package realtimedb provides the core types of a REST client for a hierarchical, path-addressed
// JSON store with server-sent change streams (Firebase Realtime Database style).
//
// This package is transport-free. It defines how locations are addressed and queried,
// how requests are described, what listeners receive, and the error and observability contracts
// used by the httpengine package.
//
// Key types:
//   - Reference: immutable location plus filters and ordering
//   - FilterSet: limitToFirst, limitToLast, startAt, endAt, equalTo
//   - RequestBuilder: turns a Reference and an Operation into a Request
//   - ChangeEvent: one change notification (ValueChanged, ChildAdded, ChildRemoved, ChildChanged)
//   - CredentialProvider: source of the access token
//
// Common usage pattern:
//
//	scores := realtimedb.Root().Child("games").Child(gameID).Child("scores")
//	top10 := scores.OrderedByChild("points").LimitToLast(10)
//
//	raw, err := client.Read(ctx, top10)
//	if err != nil {
//		// handle error
//	}
//
//	sub, err := client.ChildAdded(scores, func(e realtimedb.ChangeEvent) {
//		fmt.Println(e.Key(), string(e.Payload()))
//	}, false)
//	defer sub.Close()
package realtimedb
