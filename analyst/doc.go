// Package analyst is the registry of the analyst fleet: the remote worker
// processes that pull tasks and run them.
//
// Analysts announce themselves with a heartbeat every few seconds.
// [Service.Upsert] creates or refreshes the registry row and pings the
// task the analyst reports running. Analysts whose heartbeat goes stale
// are found with [Service.GetUnresponsive]. An analyst can be locked for
// maintenance, after which it receives no new work.
//
// [Service.KillTask] asks an analyst to stop a task over HTTP. The call is
// best effort: an unreachable analyst makes it return false, never an
// error, so the scheduler keeps working when individual workers are gone.
package analyst
