package rpcprofutil

import (
	"fmt"
	"strings"

	"github.com/go-stack/stack"
)

const modulePath = "github.com/peterbourgon/rpcprof"

// Callsite returns the file:line of the first stack frame outside of this
// module's own packages, typically the instrumented code which reported an
// RPC. Returns "unknown" if no such frame exists.
func Callsite() string {
	for _, c := range stack.Trace().TrimRuntime() {
		if ignorePackage(fmt.Sprintf("%+k", c)) {
			continue
		}
		return fmt.Sprintf("%+v", c)
	}
	return "unknown"
}

func ignorePackage(pkg string) bool {
	if !strings.HasPrefix(pkg, modulePath) {
		return false // fast path
	}
	if strings.HasSuffix(pkg, "_test") {
		return false
	}
	if strings.HasPrefix(pkg, modulePath+"/cmd/") {
		return false
	}
	return pkg == modulePath || strings.HasPrefix(pkg, modulePath+"/")
}
