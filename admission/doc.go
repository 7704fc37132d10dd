// Package admission limits how many workflow runs may start, per workflow
// and per organization.
//
// A [Manager] combines a token-bucket rate limiter (golang.org/x/time/rate)
// with an active-count gate. The executor asks the manager before a run
// starts and releases the slot when the run returns:
//
//	m := admission.NewManager(
//	    admission.Config{WorkflowID: "invoice-intake", MaxConcurrency: 4},
//	    admission.Config{RateLimit: 20, RateBurst: 40}, // every workflow
//	)
//	m.SetOrgConfig(admission.OrgConfig{MaxConcurrency: 2}) // every org
//
//	engine.New(defs, docs, reg, engine.WithAdmission(m))
//
// A [Config] with an empty WorkflowID applies to all runs together. An
// [OrgConfig] with an empty OrgID is the template for every organization
// without its own entry; each organization still gets its own bucket and
// counter.
//
// Workflows and organizations without a matching config are unlimited.
package admission
