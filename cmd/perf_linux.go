//go:build linux

/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

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
package cmd

import (
	"fmt"
	"io"

	perf "github.com/hodgesds/perf-utils"
)

// withPerfCounters runs the model under hardware counters. When the
// counters cannot be opened the model still runs, uncounted.
func withPerfCounters(run func() error, w io.Writer) (err error) {
	var (
		ran    bool
		runErr error
		instr  *perf.ProfileValue
	)
	cycles, perr := perf.CPUCycles(func() (ierr error) {
		instr, ierr = perf.CPUInstructions(func() error {
			ran = true
			runErr = run()
			return nil
		})
		return
	})
	if !ran {
		fmt.Fprintf(w, "perf counters unavailable: %v\n", perr)
		return run()
	}
	if perr == nil && instr != nil {
		fmt.Fprintf(w, "CPU instructions = %d, CPU cycles = %d, IPC = %5.2f\n",
			instr.Value, cycles.Value, float64(instr.Value)/float64(max(cycles.Value, 1)))
	}
	return runErr
}
