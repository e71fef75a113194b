// Package messenger is the Facebook Messenger frontend.
//
// Webhook handles the platform's GET verification handshake and POSTed page
// events, converting each messaging item into a dispatch.MessageEvent or
// dispatch.PostbackEvent. Client delivers replies through the Send API.
//
// Messenger users are addressed by their page-scoped id (PSID) with no
// frontend prefix, so Client is the default route of the delivery mux.
package messenger
