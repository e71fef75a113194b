// ABOUTME: Fixed reply texts the dispatcher sends back to users
// ABOUTME: Kept together so frontends and tests share the exact wording

package dispatch

// Reply texts.
const (
	ReplySubscribed     = "You are now subscribed to new block notifications."
	ReplyUnsubscribed   = "You have been unsubscribed from new block notifications."
	ReplyNoAddress      = "No address on file. Send \"Balance <address>\" first."
	ReplyLedgerFailure  = "Sorry, I could not reach the ledger service. Please try again later."
	ReplyNoTransactions = "No transactions found."
	ReplyPostbackYes    = "Thanks!"
	ReplyPostbackNo     = "Oops, try sending another image."
	ReplyUnrecognized   = "Sorry, I did not understand that. Try one of:\n" +
		"Balance <address>\n" +
		"Transactions <address>\n" +
		"Subscribe\n" +
		"Unsubscribe"
)
