// Package upload stores user files in an object store and kicks off their
// analysis. It is the first producer of events a file or workflow session
// streams: "uploaded" on the file subject, "started" on the workflow subject.
package upload
