// Package nimbus is a client-side experimentation and rollout engine.
//
// A client receives a catalog of recipes, decides locally which
// experiments and rollouts it is enrolled in, remembers those
// decisions, and answers feature lookups from the result.
//
// The enrollment rules are in package 'core', the coordinator that
// applications use is in package 'client', and a command-line tool is
// in `cmd/nimbus`.
package nimbus
