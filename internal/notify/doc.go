// Package notify delivers new-block events to subscribed users.
package notify
