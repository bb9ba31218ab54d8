// Package sweep drives the fiducial parameter sweep.
//
// A sweep is two nested enumerations. The fiducial pass visits every
// (fiducial, face) pair; the comparison pass visits every face once more for
// the aggregate fiducial comparison. Each pair becomes one Invocation of the
// external analysis program, executed strictly in plan order.
//
// After every invocation the process working directory is restored to the
// configured base path, whether or not the invocation succeeded. Failures are
// never swallowed: by default the first one aborts the sweep, and in
// keep-going mode the sweep finishes and reports every failure at the end.
package sweep
