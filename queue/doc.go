// Package queue throttles dispatch per organization.
//
// Every organization gets a token bucket (golang.org/x/time/rate). A queue
// request that would dispatch a task of an organization whose bucket is
// empty skips that task, so one organization submitting a huge job cannot
// starve the others of analysts.
//
//	m := queue.NewManager(queue.Limit{Rate: 20, Burst: 40})
//	m.SetOrgLimit("org-big", queue.Limit{Rate: 5, Burst: 5})
//	if m.Ready(orgID) && claim() {
//	    if !m.Allow(orgID) {
//	        // give the claim back
//	    }
//	}
//
// A zero Rate disables throttling. Buckets are local to one replica.
package queue
