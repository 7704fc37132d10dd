// Package capability provides the built-in step types.
//
// [Register] installs them into a step registry:
//
//	upload, api_ingest, email_ingest   pass-through input steps
//	extract                            run the OCR provider, store the extraction
//	validate                           confidence, required fields, JSON Schema
//	rule                               threshold rule that sets the review status
//	branch                             expression routing
//	review (await_human)               suspend for human review
//	webhook (webhook_export)           deliver the extraction to a webhook
//	emr_sync                           push a DocumentReference to an EMR
//	notify                             send a notification event
//	csv_export                         write the extraction as CSV to object storage
//
// Only webhook, emr_sync and notify are external; the executor retries
// them on transient failure.
package capability
