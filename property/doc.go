// Package property mediates the typed properties a guest module can read
// and write during a flow.
//
// A static, immutable rule table classifies every known property path as
// read-only, read-write, or write-only and binds it to the hook stages in
// which each direction is legal. The table is closed-world: a path that is
// not listed is denied in both directions, which is distinct from an
// explicit classification. Denied writes never change the stored value;
// denied reads yield an empty value instead of trapping the guest. Every
// denial is recorded as a Violation so callers can assert on access
// behavior.
//
// The package also provides the default read-only property sources: synthetic
// client geolocation and device fields derived from the request User-Agent.
package property
