// Package ledger talks to the blockchain ledger service.
//
// Client wraps the service's GraphQL API (accountByAddress) for balance and
// transaction lookups. Amounts are integers in satoshis everywhere; FormatBTC
// converts to BTC only when a reply is rendered.
//
// Failures come back wrapped in one of two sentinels so callers can tell them
// apart with errors.Is:
//
//   - ErrUnavailable: transport error, timeout, or a GraphQL error from the service
//   - ErrMalformedResponse: the service answered without an expected field
package ledger
