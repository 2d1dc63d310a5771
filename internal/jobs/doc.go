// Package jobs is the relay's view of the external workflow engine: one
// StatusClient per job handle exposing describe, progress query, result fetch
// and cancel. The temporal subpackage implements it over the Temporal SDK;
// jobstest holds a scripted fake.
package jobs
