// Package scm defines the source-control gateway contract consumed by the
// promotion engine, merge-request monitor, and deployment gate.
//
// It declares the Gateway interface, the data types exchanged with the
// remote host, and the error taxonomy distinguishing transient faults from
// conditions requiring manual action. Package scm/gitlab provides the REST
// implementation.
package scm
