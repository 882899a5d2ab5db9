// Package model contains the persisted record types of the outreach engine:
// approvals, jobs, ledger events, handoffs and the lead/contact/do-not-contact
// directory.
//
// The approval and job state machines live here as explicit edge tables;
// services perform transitions exclusively through the store's compare-and-set
// primitive, so an illegal edge is rejected at the single point where the
// record is mutated.
package model
