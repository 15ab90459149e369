// Package session tracks ingestion session lifecycle. A Tracker pairs the
// durable session store with an in-memory mirror of active runs so status
// queries stay fast and sessions survive a briefly unavailable database
// as emergency records until they can be reconciled.
package session
