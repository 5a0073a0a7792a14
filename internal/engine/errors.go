package engine

// engineError is the sentinel error type for failures raised inside the
// engine package. These values reach a task's callback as they are; the
// root package's AccelErrorCode taxonomy does not wrap them.
type engineError string

func (e engineError) Error() string { return string(e) }

// ErrIO is returned when a CQE reports a signature mismatch or a WR error,
// per spec §7's "IO" taxonomy entry.
var ErrIO = engineError("io error: signature mismatch or WR error")

// ErrWrPostFailure names a WR the nic.Device refused to accept. The
// wrBuilder's Post* methods return the nic.Device's own error unchanged
// (a full device queue included), not this value.
var ErrWrPostFailure = engineError("wr post failure")

// ErrUnsupportedOpcode is returned when a task carries an opcode the
// dispatch table has no handler quadruple for.
var ErrUnsupportedOpcode = engineError("unsupported opcode")
