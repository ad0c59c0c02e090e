// Package archivist is the dispatch core of a media processing platform. It
// hands Tasks belonging to Jobs to a fleet of remote worker processes
// (Analysts), tracks their execution state and serializes cluster wide
// maintenance work so it never runs twice at once across server replicas.
//
// # Architecture
//
// Each subsystem (task, job, analyst, taskerror, clusterlock) defines its
// own entity types and Store interface. A single backend implements all of
// them; see the store package and its memory, postgres, sqlite and redis
// sub-packages.
//
// All cross replica coordination goes through persisted conditional writes:
// the Task state compare-and-set and ClusterLock rows. Nothing relies on an
// in-process mutex for correctness across replicas.
//
// # Quick Start
//
//	cfg, err := archivist.LoadConfig("archivist.toml")
//	eng, err := engine.New(memory.New(), engine.WithConfig(cfg))
//	err = eng.Start(ctx)
//
// The root package holds configuration, sentinel errors and the ambient
// transaction context helpers shared by every subsystem.
package archivist
