// Package passthrough provides a preprocessing module that forwards
// resource bytes unchanged as a single derived document. It is the
// default preprocessor of the CLI and a convenient module for exercising
// the pipeline in tests.
package passthrough
