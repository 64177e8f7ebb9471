// Package types defines the shared data model of the research pipeline:
// documents, structured errors, and the error-code taxonomy used for
// credential rotation and retry decisions.
package types
