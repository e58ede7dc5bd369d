// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when seeding session history, filtering the council
// event stream and opening throwaway databases. They are not intended for
// production usage.
package testutil
