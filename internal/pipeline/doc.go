// Package pipeline drives every discovered unit through
// build, fallback resolve and publish on a bounded worker pool.
//
// Each unit follows one state machine:
//
//	Discovered -> Building -> Built | BuildFailed
//	BuildFailed -> Resolving -> Resolved | ResolveFailed
//	Built | Resolved -> Publishing -> Published | PublishFailed
//
// Published, PublishFailed, ResolveFailed and Cancelled are terminal, and
// every dispatched unit reaches exactly one of them and yields one Result.
package pipeline
