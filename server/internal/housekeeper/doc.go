// Package housekeeper periodically purges expired state: execution profiles,
// alerts and window series, each with its own retention horizon.
package housekeeper
