// Package stream follows the ledger's live block feed.
//
// Client holds a websocket open to a feed such as wss://ws.blockchain.info/inv,
// sends the configured subscribe frame and reads JSON frames. Frames are
// matched with gjson paths, so the same client works for feeds that nest the
// block hash differently:
//
//	{"op":"block","x":{"hash":"0000...","height":840000}}   hash_path: x.hash
//	{"hash":"0000..."}                                       hash_path: hash
//
// Every decoded BlockMinedEvent goes to Hub, which fans it out to in-process
// consumers such as the subscriber notifier.
package stream
