package mdb

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// defaultLogger builds the stdr-backed logger used when Options.Log is
// unset. daicang-mk/pkg/log.go hand-rolled its own logr.Logger on top of
// the standard log package; go-logr/stdr is the teacher's own
// unused direct dependency that does exactly that, so it is wired in
// here instead of re-deriving it.
func defaultLogger() logr.Logger {
	stdr.SetVerbosity(1)
	return stdr.New(nil).WithName("mdb")
}
