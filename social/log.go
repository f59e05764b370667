package social

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `social` package:
// Info:
//     abnormal events. This level should be silent on normal operation,
//     with the exception of one time initialization data
//     this includes:
//     - subscription errors and reconnects
//     - rejected mutations
// Warning:
//     recovered panics from callbacks
// V(1):
//     lifecycle events with ids that can be used to filter
//     e.g. subscribe, cancel, sign in, sign out
//     and the start and end of each mutation and connect (`Trace`)
// V(2):
//     frequent events, e.g. every snapshot and every frame
//     A `SubLogFn` narrows a V(1) log to one of these

type LogFunction func(string, ...any)

func LogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("%s: %s", tag, m))
		}
	}
}

func SubLogFn(level glog.Level, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			log("%s: %s", tag, m)
		}
	}
}
