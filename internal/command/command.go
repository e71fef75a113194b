// ABOUTME: Parser for the chat command language understood by ledgerbot
// ABOUTME: Turns free-text messages into a Command with an optional address argument

package command

import (
	"strings"
	"unicode"
)

// Kind identifies which command a message carries.
type Kind int

const (
	Unrecognized Kind = iota
	Balance
	Transactions
	Subscribe
	Unsubscribe
)

// verbs maps the exact, case-sensitive verb literals to their kind.
var verbs = map[string]Kind{
	"Balance":      Balance,
	"Transactions": Transactions,
	"Subscribe":    Subscribe,
	"Unsubscribe":  Unsubscribe,
}

// String returns the verb literal for the kind, or "Unrecognized".
func (k Kind) String() string {
	switch k {
	case Balance:
		return "Balance"
	case Transactions:
		return "Transactions"
	case Subscribe:
		return "Subscribe"
	case Unsubscribe:
		return "Unsubscribe"
	default:
		return "Unrecognized"
	}
}

// Command is the parsed form of a chat message.
// Address is only meaningful for Balance and Transactions and is empty when the
// message carried no argument. Raw always holds the original text.
type Command struct {
	Kind    Kind
	Address string
	Raw     string
}

// HasAddress reports whether the message named an address explicitly.
func (c Command) HasAddress() bool {
	return c.Address != ""
}

// Parse classifies text into a Command. It never fails: anything that does not
// start with a known verb yields an Unrecognized command.
func Parse(text string) Command {
	cmd := Command{Kind: Unrecognized, Raw: text}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return cmd
	}

	verb, arg := trimmed, ""
	if i := strings.IndexFunc(trimmed, unicode.IsSpace); i >= 0 {
		verb = trimmed[:i]
		arg = strings.TrimSpace(trimmed[i:])
	}

	kind, ok := verbs[verb]
	if !ok {
		return cmd
	}

	cmd.Kind = kind
	if kind == Balance || kind == Transactions {
		cmd.Address = arg
	}
	return cmd
}
