package mdb

import "fmt"

// assert mirrors daicang-mk/pkg/debug.go's assert(): invariants the
// implementation relies on internally, not argument validation (that
// goes through the typed errors in errors.go).
func assert(condition bool, msg string, v ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("mdb: assertion failed: "+msg, v...))
	}
}
