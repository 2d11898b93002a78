package allocerr

// Validatable is implemented by any allocator whose internal bookkeeping can
// be checked for self-consistency. DebugValidate uses this to run those checks
// only in debug builds.
type Validatable interface {
	Validate() error
}
