// Package postman provides user-to-user private messaging for Go services.
//
// A message composed for N recipients is stored as N independent records,
// each with its own recipient, read and archive flags, soft-delete dates
// and moderation state. Replies link records into a conversation thread.
// Storage is pluggable (PostgreSQL, MongoDB, in-memory).
//
// # Basic Usage
//
//	st := memory.New()
//	users := resolver.NewStatic(
//	    store.User{ID: "1", Username: "alice", Email: "alice@example.com", Active: true},
//	    store.User{ID: "2", Username: "bob", Email: "bob@example.com", Active: true},
//	)
//
//	svc, err := postman.NewService(
//	    postman.WithStore(st),
//	    postman.WithDirectory(users),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	alice := svc.Client("1")
//	res, err := alice.Compose(ctx, postman.ComposeRequest{
//	    Subject:    "Hello",
//	    Body:       "How are you?",
//	    Recipients: []string{"bob"},
//	})
//
// # Mailbox Operations
//
//   - Inbox/Sent/Archives/Trash: folder views, newest first
//   - Thread: conversation view, oldest first; marks the thread read
//   - Stream: page-by-page iteration over a whole folder
//   - Compose/Reply/ReplyAll/Forward: create records
//   - MarkRead/MarkArchived/Unarchive/Delete/Undelete: per-user side updates
//     of a record and its thread
//
// # Moderation
//
// Every new record runs through the AutoModerator chain set with
// WithAutoModerators. A rejected record is stored but hidden from its
// recipient; ComposeResult.Accepted reports it. Service.Moderate applies
// manual decisions afterwards.
//
// # Filters
//
// WithUserFilter vets each recipient and WithExchangeFilter each
// (sender, recipient) pair. The filter/redisblock package provides a
// Redis-backed block list.
//
// # Events and Notifications
//
// Lifecycle events are published on a github.com/rbaliyan/event/v3 bus, over
// Redis when WithRedisClient is given. Plugins implementing Notifier are
// told about every committed record; see notify/kafka and notify/ses.
package postman
