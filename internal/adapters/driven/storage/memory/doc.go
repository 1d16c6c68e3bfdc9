// Package memory provides in-memory implementations of the storage ports,
// used as test doubles and for throwaway sessions.
package memory
