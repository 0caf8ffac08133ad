// Package playermail is an in-game mail system for a Minecraft server.
//
// Players send each other text mail with optional item attachments that
// can be claimed exactly once, and commands that run once when the
// receiver first opens the mail. Each side of a conversation deletes
// independently; the record is removed when both have.
//
// # Basic Usage
//
//	svc, err := playermail.NewService(
//	    playermail.WithStore(bolt.New("plugins/Mail/mail.db")),
//	    playermail.WithPresence(server),   // host: who is online
//	    playermail.WithHistory(directory), // names of players seen before
//	    playermail.WithDispatcher(server), // runs mail commands
//	    playermail.WithInventory(server),  // hands out claimed items
//	    playermail.WithGameThread(server), // main-thread scheduler
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	m, err := svc.Send(ctx, playermail.SendRequest{
//	    SenderID:     steve.ID,
//	    SenderName:   "Steve",
//	    ReceiverName: "Alex",
//	    Subject:      "Diamonds",
//	    Items:        []*item.Stack{{Material: "DIAMOND", Amount: 3}},
//	})
//
// # Operations
//
//   - Send, SendSystem, SendBatch: deliver mail, one record per receiver
//   - SendToAll, Recall: background jobs over every known player
//   - Inbox, Sent, UnreadCount, Get: retrieval
//   - Open, MarkAsRead, ExecuteCommands, ClaimItems: reading
//   - Delete, DeleteAllByReceiver, DeleteReadByReceiver, Reconcile: removal
//
// # Storage Backends
//
//   - bbolt (store/bolt): a single file next to the server
//   - PostgreSQL (store/postgres): accepts *sql.DB
//   - MongoDB (store/mongo): accepts *mongo.Client
//   - In-memory (store/memory): for testing
//
// # Events
//
// Per-service events are registered during Connect and published on the
// configured transport (noop by default, WithRedisClient or
// WithEventTransport otherwise):
//
//	svc.Events().MailSent.Subscribe(ctx, handler)
//
// Available events: MailSent, MailRead, MailClaimed, MailDeleted.
package playermail
