// Package matrix is an optional Matrix frontend. Each sender is its own chat
// user, scoped to the room they wrote in, with the id
// "matrix:<room id>|<sender id>". Sessions and subscriptions follow the
// sender; replies and block notifications are posted to the room.
package matrix
