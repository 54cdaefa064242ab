// Package redis carries reload notifications between instances. Any process
// may publish on the reload channel; every subscribed instance answers with a
// reconciliation cycle.
package redis
