// Package publisher runs the AirSense sensor simulator: it generates a
// bounded synthetic reading on every tick and publishes it to the broker.
//
// Publishing is best effort. When the connection manager has no live
// session the tick is skipped and nothing is buffered; fresh readings are
// worth more than stale ones. A publish that fails or outlives its deadline
// (never longer than one interval) is counted and reported to the manager,
// which drops the session and backs off.
//
// Encoding failures mean the reading source broke its contract. They stop
// the publisher and are returned from Stop and Err.
package publisher
