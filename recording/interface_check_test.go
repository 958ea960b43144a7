package recording

// This file verifies that the recorders implement the DataRecorder
// interface. If this compiles, the interface is correctly implemented.

var _ DataRecorder = (*ClickHouseRecorder)(nil)
var _ DataRecorder = (*sqliteWriter)(nil)
