// Package outreach orchestrates human-approved outbound communication. It
// combines a durable record store, an approval state machine with a
// compare-and-set dispatch claim, a job queue with a fixed worker pool for
// browser-automation flows, a human-handoff coordinator for detected gates
// and a channel dispatcher, all audited through an append-only event ledger.
//
// Nothing leaves the system without an explicit human approval: the only
// path to a channel adapter is a claim that atomically verifies the approved
// status at dispatch time.
package outreach
