/*
Copyright 2024 The TiDB-Connector Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log is a thin adapter around glog so the rest of the codebase
// never imports glog directly. Binaries that want the glog flags call
// RegisterFlags on their flag set.
package log

import (
	"strconv"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

// Level is the glog verbosity level.
type Level = glog.Level

// Flush ensures any pending I/O is written.
var Flush = glog.Flush

var (
	// V quickly checks if the logging verbosity meets a threshold.
	V = glog.V

	// Info formats arguments like fmt.Print.
	Info = glog.Info
	// Infof formats arguments like fmt.Printf.
	Infof = glog.Infof

	// Warning formats arguments like fmt.Print.
	Warning = glog.Warning
	// Warningf formats arguments like fmt.Printf.
	Warningf = glog.Warningf

	// Error formats arguments like fmt.Print.
	Error = glog.Error
	// Errorf formats arguments like fmt.Printf.
	Errorf = glog.Errorf

	// Exit formats arguments like fmt.Print and exits.
	Exit = glog.Exit
	// Exitf formats arguments like fmt.Printf and exits.
	Exitf = glog.Exitf

	// Fatal formats arguments like fmt.Print and exits with an error.
	Fatal = glog.Fatal
	// Fatalf formats arguments like fmt.Printf and exits with an error.
	Fatalf = glog.Fatalf
)

// RegisterFlags installs log flags on the given FlagSet.
func RegisterFlags(fs *pflag.FlagSet) {
	flagVal := logRotateMaxSize{
		val: strconv.FormatUint(atomic.LoadUint64(&glog.MaxSize), 10),
	}
	fs.Var(&flagVal, "log-rotate-max-size", "size in bytes at which logs are rotated (glog.MaxSize)")
}

// logRotateMaxSize implements pflag.Value and is used to
// try and provide thread-safe access to glog.MaxSize.
type logRotateMaxSize struct {
	val string
}

func (lrms *logRotateMaxSize) Set(s string) error {
	maxSize, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	atomic.StoreUint64(&glog.MaxSize, maxSize)
	lrms.val = s
	return nil
}

func (lrms *logRotateMaxSize) String() string {
	return lrms.val
}

func (lrms *logRotateMaxSize) Type() string {
	return "uint64"
}
