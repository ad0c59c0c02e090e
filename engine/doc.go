// Package engine wires every archivist subsystem of one server replica
// over a single store.
//
// The engine package sits above all subsystem packages and below the
// application layer (the api package and the archivist command), so the
// subsystems never import each other through it.
//
// # Building an Engine
//
//	s, closeStore, err := engine.OpenStore(ctx, cfg.Store, logger)
//	eng, err := engine.New(s,
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(myAuditor),
//	)
//	err = eng.Start(ctx)
//	defer eng.Stop(ctx)
//
// New builds, in order: the extension registry with the OpenTelemetry
// metrics extension, the cluster lock service, worker pool and executor
// (wrapped in recover, tracing, metrics and logging middleware), the
// analyst, task error and dispatcher services, the credential signer, the
// dispatch queue manager with optional per-organization throttling, and
// the maintenance scheduler.
//
// # Maintenance
//
// Every engine registers three soft-locked cron entries:
//   - [CronLockExpiration]: reclaim cluster locks whose owner crashed
//   - [CronAnalystUnresponsive]: mark silent analysts Down and requeue their task
//   - [CronTaskOrphans]: requeue dispatched tasks nobody pinged
//
// [WithCronEntry] adds more, for example a combine-locked rebuild.
// [Engine.RunMaintenance] and [Engine.SweepAll] run entries once on demand.
//
// # Options
//
//   - [WithConfig]: configuration (defaults to archivist.DefaultConfig)
//   - [WithLogger], [WithClock], [WithHost]
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: wrap lock-held bodies
//   - [WithKiller]: replace the analyst kill RPC client
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
